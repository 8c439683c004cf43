package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"enterprise-crm-backend/pkg/database"
	"enterprise-crm-backend/pkg/logger"
	"enterprise-crm-backend/pkg/models"
	"enterprise-crm-backend/pkg/utils"
)

type gateFixture struct {
	store *database.MemoryStore
	gate  *AccessGate
	owner *models.User
	ent   *models.Enterprise
}

func newGateFixture(t *testing.T) *gateFixture {
	t.Helper()
	ctx := context.Background()
	store := database.NewMemoryStore()

	owner := &models.User{Email: "owner@example.com"}
	require.NoError(t, store.CreateUser(ctx, owner))
	ent := &models.Enterprise{Name: "Acme"}
	require.NoError(t, store.CreateEnterprise(ctx, ent, owner.ID))

	return &gateFixture{
		store: store,
		gate:  NewAccessGate(store, logger.Nop()),
		owner: owner,
		ent:   ent,
	}
}

// serveGated routes a request through {enterpriseID} routing and the gate,
// with user (possibly nil) preloaded on the context.
func (f *gateFixture) serveGated(t *testing.T, required models.Role, user *models.User, path string) *httptest.ResponseRecorder {
	t.Helper()

	router := chi.NewRouter()
	router.With(f.gate.RequireRole(required)).
		Get("/enterprises/{enterpriseID}/resource", func(w http.ResponseWriter, r *http.Request) {
			role, ok := GetEnterpriseRoleFromContext(r.Context())
			require.True(t, ok)
			ent, ok := GetEnterpriseFromContext(r.Context())
			require.True(t, ok)
			utils.WriteSuccessResponse(w, map[string]string{
				"role":       string(role),
				"enterprise": ent.ID,
			})
		})

	req := httptest.NewRequest("GET", path, nil)
	if user != nil {
		req = req.WithContext(context.WithValue(req.Context(), UserContextKey, user))
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func (f *gateFixture) addMember(t *testing.T, email string, role models.Role) *models.User {
	t.Helper()
	ctx := context.Background()
	u := &models.User{Email: email}
	require.NoError(t, f.store.CreateUser(ctx, u))
	_, err := f.store.AcceptInvitation(ctx, mustInvite(t, f.store, f.ent.ID, email, role, f.owner.ID), u.ID, &models.TeamMembership{
		EnterpriseID: f.ent.ID,
		Role:         role,
	})
	require.NoError(t, err)
	return u
}

func mustInvite(t *testing.T, store *database.MemoryStore, enterpriseID, email string, role models.Role, inviterID string) string {
	t.Helper()
	inv := &models.EnterpriseInvitation{
		EnterpriseID: enterpriseID,
		Email:        email,
		Role:         role,
		InviterID:    inviterID,
		Token:        "tok-" + email,
		Status:       models.InvitationPending,
	}
	require.NoError(t, store.CreateInvitation(context.Background(), inv))
	return inv.ID
}

func TestGateRejectsUnauthenticated(t *testing.T) {
	f := newGateFixture(t)
	w := f.serveGated(t, models.RoleViewer, nil, "/enterprises/"+f.ent.ID+"/resource")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestGateUnknownEnterpriseIs404(t *testing.T) {
	f := newGateFixture(t)
	w := f.serveGated(t, models.RoleViewer, f.owner, "/enterprises/"+uuid.NewString()+"/resource")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGateMalformedEnterpriseIDIs404(t *testing.T) {
	// A non-uuid path segment is indistinguishable from a missing tenant;
	// it must never leak as a driver error.
	f := newGateFixture(t)
	w := f.serveGated(t, models.RoleViewer, f.owner, "/enterprises/no-such-id/resource")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGateNonMemberGets404Not403(t *testing.T) {
	f := newGateFixture(t)
	stranger := &models.User{Email: "stranger@example.com"}
	require.NoError(t, f.store.CreateUser(context.Background(), stranger))

	w := f.serveGated(t, models.RoleViewer, stranger, "/enterprises/"+f.ent.ID+"/resource")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGateInsufficientRoleGets403WithDetails(t *testing.T) {
	f := newGateFixture(t)
	viewer := f.addMember(t, "viewer@example.com", models.RoleViewer)

	w := f.serveGated(t, models.RoleAdmin, viewer, "/enterprises/"+f.ent.ID+"/resource")
	assert.Equal(t, http.StatusForbidden, w.Code)

	var resp utils.APIResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	require.NotNil(t, resp.Error)
	details, ok := resp.Error.Details.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "viewer", details["current_role"])
	assert.Equal(t, "admin", details["required_role"])
}

func TestGateSufficientRolePasses(t *testing.T) {
	f := newGateFixture(t)
	admin := f.addMember(t, "admin@example.com", models.RoleAdmin)

	w := f.serveGated(t, models.RoleEditor, admin, "/enterprises/"+f.ent.ID+"/resource")
	assert.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Data map[string]string `json:"data"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, "admin", resp.Data["role"])
	assert.Equal(t, f.ent.ID, resp.Data["enterprise"])
}

func TestGateOwnerSatisfiesEverything(t *testing.T) {
	f := newGateFixture(t)
	for _, required := range []models.Role{models.RoleViewer, models.RoleEditor, models.RoleAdmin, models.RoleOwner} {
		w := f.serveGated(t, required, f.owner, "/enterprises/"+f.ent.ID+"/resource")
		assert.Equal(t, http.StatusOK, w.Code, "required=%s", required)
	}
}

func TestGatePlatformAdminBypass(t *testing.T) {
	f := newGateFixture(t)
	admin := &models.User{Email: "platform@example.com", PlatformRole: models.PlatformAdmin}
	require.NoError(t, f.store.CreateUser(context.Background(), admin))

	// No membership at all, yet the gate resolves owner.
	w := f.serveGated(t, models.RoleOwner, admin, "/enterprises/"+f.ent.ID+"/resource")
	assert.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Data map[string]string `json:"data"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, "owner", resp.Data["role"])
}

func TestGateInactiveMembershipGets404(t *testing.T) {
	f := newGateFixture(t)
	member := f.addMember(t, "former@example.com", models.RoleEditor)

	m, err := f.store.GetActiveMembership(context.Background(), member.ID, f.ent.ID)
	require.NoError(t, err)
	require.NoError(t, f.store.DeactivateMembership(context.Background(), m.ID))

	w := f.serveGated(t, models.RoleViewer, member, "/enterprises/"+f.ent.ID+"/resource")
	assert.Equal(t, http.StatusNotFound, w.Code)
}
