package admin

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/ukydev/fleet-usage/internal/db"
	"github.com/ukydev/fleet-usage/internal/db/sqlite"
	"github.com/ukydev/fleet-usage/internal/events"
	"github.com/ukydev/fleet-usage/internal/models"
)

// MockIdentityProvider is a mock implementation of auth.IdentityProvider
type MockIdentityProvider struct {
	mock.Mock
}

func (m *MockIdentityProvider) CreateIdentity(ctx context.Context, email, password string) (string, error) {
	args := m.Called(ctx, email, password)
	return args.String(0), args.Error(1)
}

func (m *MockIdentityProvider) DeleteIdentity(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockIdentityProvider) VerifyToken(ctx context.Context, token string) (string, error) {
	args := m.Called(ctx, token)
	return args.String(0), args.Error(1)
}

func (m *MockIdentityProvider) Login(ctx context.Context, email, password string) (string, string, error) {
	args := m.Called(ctx, email, password)
	return args.String(0), args.String(1), args.Error(2)
}

func (m *MockIdentityProvider) FindIdentityByEmail(ctx context.Context, email string) (string, error) {
	args := m.Called(ctx, email)
	return args.String(0), args.Error(1)
}

// MockStore is a mock implementation of Store
type MockStore struct {
	mock.Mock
}

func (m *MockStore) InsertAsset(ctx context.Context, asset models.Asset) (*models.Asset, error) {
	args := m.Called(ctx, asset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Asset), args.Error(1)
}

func (m *MockStore) FindAssetByID(ctx context.Context, id string) (*models.Asset, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Asset), args.Error(1)
}

func (m *MockStore) FindAssets(ctx context.Context) ([]models.Asset, error) {
	args := m.Called(ctx)
	return args.Get(0).([]models.Asset), args.Error(1)
}

func (m *MockStore) UpdateAsset(ctx context.Context, asset models.Asset) error {
	args := m.Called(ctx, asset)
	return args.Error(0)
}

func (m *MockStore) InsertProfile(ctx context.Context, profile models.Profile) error {
	args := m.Called(ctx, profile)
	return args.Error(0)
}

func (m *MockStore) FindProfileByID(ctx context.Context, id string) (*models.Profile, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Profile), args.Error(1)
}

func (m *MockStore) FindProfiles(ctx context.Context, roles ...models.Role) ([]models.Profile, error) {
	args := m.Called(ctx, roles)
	return args.Get(0).([]models.Profile), args.Error(1)
}

// UpdateProfile runs the guard against the first return value, the stored profile, before
// returning the updated one.
func (m *MockStore) UpdateProfile(ctx context.Context, id string, patch models.ProfilePatch, guard db.ProfileGuard) (*models.Profile, error) {
	args := m.Called(ctx, id, patch)
	if current, ok := args.Get(0).(*models.Profile); ok {
		if err := guard(*current); err != nil {
			return nil, err
		}
	}
	if args.Get(1) == nil {
		return nil, args.Error(2)
	}
	return args.Get(1).(*models.Profile), args.Error(2)
}

var (
	fleetAdmin = models.Identity{ActorID: "admin-1", Role: models.RoleFleetAdmin}
	director   = models.Identity{ActorID: "dir-1", Role: models.RoleDirector}
	manager    = models.Identity{ActorID: "mgr-1", Role: models.RoleManager}
	operator   = models.Identity{ActorID: "op-1", Role: models.RoleOperator}
)

func newGateway() (*Gateway, *MockIdentityProvider, *MockStore, *events.Recorder) {
	provider := new(MockIdentityProvider)
	store := new(MockStore)
	recorder := &events.Recorder{}
	g := NewGateway(provider, store, recorder)
	g.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	return g, provider, store, recorder
}

func validAccount(role models.Role) CreateAccountInput {
	return CreateAccountInput{Name: " Ana ", Email: "Ana@Example.com", Password: "password123", Role: role}
}

func rolePtr(r models.Role) *models.Role { return &r }
func strPtr(s string) *string { return &s }

func TestCreateAccount_Success(t *testing.T) {
	g, provider, store, recorder := newGateway()
	provider.On("CreateIdentity", mock.Anything, "ana@example.com", "password123").Return("uuid-1", nil).Once()
	store.On("InsertProfile", mock.Anything, mock.MatchedBy(func(p models.Profile) bool {
		return p.ID == "uuid-1" && p.Name == "Ana" && p.Role == models.RoleOperator
	})).Return(nil).Once()

	profile, err := g.CreateAccount(context.Background(), manager, validAccount(models.RoleOperator))
	require.NoError(t, err)
	assert.Equal(t, "uuid-1", profile.ID)
	assert.Equal(t, "ana@example.com", profile.Email)
	assert.Equal(t, []string{events.AccountCreated}, recorder.Types())
	provider.AssertNotCalled(t, "DeleteIdentity", mock.Anything, mock.Anything)
	provider.AssertExpectations(t)
	store.AssertExpectations(t)
}

func TestCreateAccount_PolicyDenied(t *testing.T) {
	tests := []struct {
		name  string
		actor models.Identity
		role  models.Role
	}{
		{"operator creates operator", operator, models.RoleOperator},
		{"manager creates manager", manager, models.RoleManager},
		{"director creates director", director, models.RoleDirector},
		{"admin creates admin", fleetAdmin, models.RoleFleetAdmin},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, provider, store, _ := newGateway()
			_, err := g.CreateAccount(context.Background(), tt.actor, validAccount(tt.role))
			assert.ErrorIs(t, err, models.ErrPermissionDenied)
			provider.AssertNotCalled(t, "CreateIdentity", mock.Anything, mock.Anything, mock.Anything)
			store.AssertNotCalled(t, "InsertProfile", mock.Anything, mock.Anything)
		})
	}
}

func TestCreateAccount_Validation(t *testing.T) {
	g, provider, _, _ := newGateway()
	in := validAccount(models.RoleOperator)
	in.Password = "short"
	in.Email = "nope"

	_, err := g.CreateAccount(context.Background(), fleetAdmin, in)
	var verr *models.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Fields, "email")
	assert.Contains(t, verr.Fields, "password")
	provider.AssertNotCalled(t, "CreateIdentity", mock.Anything, mock.Anything, mock.Anything)
}

func TestCreateAccount_ProviderFailure(t *testing.T) {
	g, provider, store, recorder := newGateway()
	provider.On("CreateIdentity", mock.Anything, mock.Anything, mock.Anything).Return("", models.ErrDuplicateEmail).Once()

	_, err := g.CreateAccount(context.Background(), fleetAdmin, validAccount(models.RoleManager))
	assert.ErrorIs(t, err, models.ErrDuplicateEmail)
	store.AssertNotCalled(t, "InsertProfile", mock.Anything, mock.Anything)
	assert.Empty(t, recorder.Events())

	provider.AssertNotCalled(t, "FindIdentityByEmail", mock.Anything, mock.Anything)

	g, provider, _, _ = newGateway()
	provider.On("CreateIdentity", mock.Anything, mock.Anything, mock.Anything).Return("", errors.New("dial tcp: refused")).Once()
	provider.On("FindIdentityByEmail", mock.Anything, "ana@example.com").Return("", nil).Once()
	_, err = g.CreateAccount(context.Background(), fleetAdmin, validAccount(models.RoleManager))
	assert.ErrorIs(t, err, models.ErrIdentityProvider)
	provider.AssertNotCalled(t, "DeleteIdentity", mock.Anything, mock.Anything)
	provider.AssertExpectations(t)
}

func TestCreateAccount_RemovesIdentityCommittedBeforeTimeout(t *testing.T) {
	// GIVEN: the provider commits the identity but the call times out before returning it
	// WHEN: the account is created
	// THEN: the identity is looked up by email and deleted on a live context
	g, provider, store, recorder := newGateway()
	ctx, cancel := context.WithCancel(context.Background())
	provider.On("CreateIdentity", mock.Anything, "ana@example.com", "password123").
		Run(func(mock.Arguments) { cancel() }).
		Return("", fmt.Errorf("%w: context deadline exceeded", models.ErrIdentityProvider)).Once()
	provider.On("FindIdentityByEmail", mock.MatchedBy(func(c context.Context) bool { return c.Err() == nil }), "ana@example.com").
		Return("uuid-late", nil).Once()
	store.On("FindProfileByID", mock.Anything, "uuid-late").Return(nil, models.ErrAccountNotFound).Once()
	provider.On("DeleteIdentity", mock.MatchedBy(func(c context.Context) bool { return c.Err() == nil }), "uuid-late").
		Return(nil).Once()

	_, err := g.CreateAccount(ctx, fleetAdmin, validAccount(models.RoleManager))
	assert.ErrorIs(t, err, models.ErrExternal)
	assert.Empty(t, recorder.Events())
	provider.AssertExpectations(t)
	store.AssertExpectations(t)
}

func TestCreateAccount_KeepsIdentityThatHasAProfile(t *testing.T) {
	g, provider, store, _ := newGateway()
	provider.On("CreateIdentity", mock.Anything, mock.Anything, mock.Anything).
		Return("", fmt.Errorf("%w: timeout", models.ErrIdentityProvider)).Once()
	provider.On("FindIdentityByEmail", mock.Anything, "ana@example.com").Return("uuid-existing", nil).Once()
	store.On("FindProfileByID", mock.Anything, "uuid-existing").
		Return(&models.Profile{ID: "uuid-existing", Role: models.RoleOperator}, nil).Once()

	_, err := g.CreateAccount(context.Background(), fleetAdmin, validAccount(models.RoleManager))
	assert.ErrorIs(t, err, models.ErrIdentityProvider)
	provider.AssertNotCalled(t, "DeleteIdentity", mock.Anything, mock.Anything)
}

func TestCreateAccount_CompensatesWhenProfileWriteFails(t *testing.T) {
	g, provider, store, recorder := newGateway()
	provider.On("CreateIdentity", mock.Anything, mock.Anything, mock.Anything).Return("uuid-1", nil).Once()
	store.On("InsertProfile", mock.Anything, mock.Anything).Return(errors.New("store unreachable")).Once()
	provider.On("DeleteIdentity", mock.Anything, "uuid-1").Return(nil).Once()

	_, err := g.CreateAccount(context.Background(), fleetAdmin, validAccount(models.RoleDirector))
	assert.ErrorIs(t, err, models.ErrExternal)
	assert.Contains(t, err.Error(), "store unreachable")
	provider.AssertExpectations(t)
	assert.Empty(t, recorder.Events())
}

func TestCreateAccount_CompensatesAfterCancellation(t *testing.T) {
	g, provider, store, _ := newGateway()
	ctx, cancel := context.WithCancel(context.Background())

	provider.On("CreateIdentity", mock.Anything, mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { cancel() }).
		Return("uuid-1", nil).Once()
	provider.On("DeleteIdentity", mock.MatchedBy(func(c context.Context) bool {
		return c.Err() == nil
	}), "uuid-1").Return(nil).Once()

	_, err := g.CreateAccount(ctx, fleetAdmin, validAccount(models.RoleOperator))
	assert.Error(t, err)
	provider.AssertExpectations(t)
	store.AssertNotCalled(t, "InsertProfile", mock.Anything, mock.Anything)
}

func TestCreateAccount_RollbackFailureReportsBoth(t *testing.T) {
	g, provider, store, _ := newGateway()
	provider.On("CreateIdentity", mock.Anything, mock.Anything, mock.Anything).Return("uuid-1", nil).Once()
	store.On("InsertProfile", mock.Anything, mock.Anything).Return(errors.New("store unreachable")).Once()
	provider.On("DeleteIdentity", mock.Anything, "uuid-1").Return(models.ErrIdentityProvider).Once()

	_, err := g.CreateAccount(context.Background(), fleetAdmin, validAccount(models.RoleOperator))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store unreachable")
	assert.Contains(t, err.Error(), "rollback failed")
}

func TestUpdateAccount(t *testing.T) {
	target := &models.Profile{ID: "op-2", Name: "Bea", Role: models.RoleOperator}

	t.Run("manager renames operator", func(t *testing.T) {
		g, _, store, recorder := newGateway()
		patch := models.ProfilePatch{Name: strPtr("  Beatriz ")}
		store.On("UpdateProfile", mock.Anything, "op-2", models.ProfilePatch{Name: strPtr("Beatriz")}).
			Return(target, &models.Profile{ID: "op-2", Name: "Beatriz", Role: models.RoleOperator}, nil).Once()

		updated, err := g.UpdateAccount(context.Background(), manager, "op-2", patch)
		require.NoError(t, err)
		assert.Equal(t, "Beatriz", updated.Name)
		assert.Equal(t, []string{events.AccountUpdated}, recorder.Types())
		store.AssertExpectations(t)
	})

	t.Run("manager cannot promote operator", func(t *testing.T) {
		g, _, store, recorder := newGateway()
		patch := models.ProfilePatch{Name: strPtr("Bea"), Role: rolePtr(models.RoleManager)}
		store.On("UpdateProfile", mock.Anything, "op-2", patch).Return(target, nil, nil).Once()

		_, err := g.UpdateAccount(context.Background(), manager, "op-2", patch)
		assert.ErrorIs(t, err, models.ErrPermissionDenied)
		assert.Empty(t, recorder.Types())
	})

	t.Run("self role change", func(t *testing.T) {
		g, _, store, _ := newGateway()
		patch := models.ProfilePatch{Role: rolePtr(models.RoleOperator)}
		store.On("UpdateProfile", mock.Anything, "admin-1", patch).
			Return(&models.Profile{ID: "admin-1", Role: models.RoleFleetAdmin}, nil, nil).Once()

		_, err := g.UpdateAccount(context.Background(), fleetAdmin, "admin-1", patch)
		assert.ErrorIs(t, err, models.ErrSelfRoleChange)
	})

	t.Run("empty patch", func(t *testing.T) {
		g, _, store, _ := newGateway()
		_, err := g.UpdateAccount(context.Background(), fleetAdmin, "op-2", models.ProfilePatch{})
		assert.ErrorIs(t, err, models.ErrValidation)
		store.AssertNotCalled(t, "UpdateProfile", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("blank name and unknown role", func(t *testing.T) {
		g, _, _, _ := newGateway()
		_, err := g.UpdateAccount(context.Background(), fleetAdmin, "op-2", models.ProfilePatch{Name: strPtr("  ")})
		assert.ErrorIs(t, err, models.ErrValidation)
		_, err = g.UpdateAccount(context.Background(), fleetAdmin, "op-2", models.ProfilePatch{Role: rolePtr("root")})
		assert.ErrorIs(t, err, models.ErrValidation)
	})

	t.Run("missing target", func(t *testing.T) {
		g, _, store, _ := newGateway()
		store.On("UpdateProfile", mock.Anything, "ghost", models.ProfilePatch{Name: strPtr("X")}).
			Return(nil, nil, models.ErrAccountNotFound).Once()
		_, err := g.UpdateAccount(context.Background(), fleetAdmin, "ghost", models.ProfilePatch{Name: strPtr("X")})
		assert.ErrorIs(t, err, models.ErrAccountNotFound)
	})
}

// promotingStore changes the target's role right before the update transaction starts.
type promotingStore struct {
	*sqlite.Store
	targetID string
}

func (s *promotingStore) UpdateProfile(ctx context.Context, id string, patch models.ProfilePatch, guard db.ProfileGuard) (*models.Profile, error) {
	director := models.RoleDirector
	if _, err := s.Store.UpdateProfile(ctx, s.targetID, models.ProfilePatch{Role: &director},
		func(models.Profile) error { return nil }); err != nil {
		return nil, err
	}
	return s.Store.UpdateProfile(ctx, id, patch, guard)
}

func TestUpdateAccount_PolicyUsesStoredRole(t *testing.T) {
	// GIVEN: a manager editing an operator who is promoted to director concurrently
	// WHEN: the manager renames and sets role operator
	// THEN: the update is denied against the director and nothing is written
	store, err := sqlite.New(filepath.Join(t.TempDir(), "admin.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close(context.Background()) })
	ctx := context.Background()
	require.NoError(t, store.InsertProfile(ctx, models.Profile{ID: "op-9", Name: "Caio", Role: models.RoleOperator}))

	g := NewGateway(new(MockIdentityProvider), &promotingStore{Store: store, targetID: "op-9"}, nil)
	_, err = g.UpdateAccount(ctx, manager, "op-9", models.ProfilePatch{
		Name: strPtr("renamed by manager"),
		Role: rolePtr(models.RoleOperator),
	})
	assert.ErrorIs(t, err, models.ErrPermissionDenied)

	stored, err := store.FindProfileByID(ctx, "op-9")
	require.NoError(t, err)
	assert.Equal(t, "Caio", stored.Name)
	assert.Equal(t, models.RoleDirector, stored.Role)
}

func TestListAccounts(t *testing.T) {
	g, _, store, _ := newGateway()
	all := []models.Profile{{ID: "a"}, {ID: "b"}}
	operators := []models.Profile{{ID: "b"}}
	store.On("FindProfiles", mock.Anything, []models.Role(nil)).Return(all, nil)
	store.On("FindProfiles", mock.Anything, []models.Role{models.RoleOperator}).Return(operators, nil)

	got, err := g.ListAccounts(context.Background(), fleetAdmin)
	require.NoError(t, err)
	assert.Equal(t, all, got)

	for _, actor := range []models.Identity{director, manager} {
		got, err = g.ListAccounts(context.Background(), actor)
		require.NoError(t, err)
		assert.Equal(t, operators, got)
	}

	_, err = g.ListAccounts(context.Background(), operator)
	assert.ErrorIs(t, err, models.ErrPermissionDenied)
}

func TestCreateAsset(t *testing.T) {
	g, _, store, recorder := newGateway()
	initial := 1200.0
	store.On("InsertAsset", mock.Anything, mock.MatchedBy(func(a models.Asset) bool {
		return a.Plate == "ABC-1234" && a.Name == "Hilux" && *a.InitialReading == 1200
	})).Return(&models.Asset{ID: "asset-1", Plate: "ABC-1234", Name: "Hilux", MeterKind: models.MeterDistance}, nil).Once()

	asset, err := g.CreateAsset(context.Background(), manager, AssetInput{
		Plate: " abc-1234 ", Name: "Hilux", MeterKind: models.MeterDistance, InitialReading: &initial,
	})
	require.NoError(t, err)
	assert.Equal(t, "asset-1", asset.ID)
	assert.Equal(t, []string{events.AssetRegistered}, recorder.Types())

	_, err = g.CreateAsset(context.Background(), operator, AssetInput{Plate: "X", Name: "Y", MeterKind: models.MeterDistance})
	assert.ErrorIs(t, err, models.ErrPermissionDenied)

	_, err = g.CreateAsset(context.Background(), manager, AssetInput{Plate: "X", Name: "Y", MeterKind: "furlongs"})
	assert.ErrorIs(t, err, models.ErrValidation)

	negative := -1.0
	_, err = g.CreateAsset(context.Background(), manager, AssetInput{Plate: "X", Name: "Y", MeterKind: models.MeterDuration, InitialReading: &negative})
	assert.ErrorIs(t, err, models.ErrValidation)
}

func TestUpdateAsset(t *testing.T) {
	g, _, store, _ := newGateway()
	store.On("FindAssetByID", mock.Anything, "asset-1").
		Return(&models.Asset{ID: "asset-1", Plate: "ABC-1234", Name: "Hilux", MeterKind: models.MeterDistance}, nil)
	store.On("UpdateAsset", mock.Anything, mock.MatchedBy(func(a models.Asset) bool {
		return a.Color == "red" && a.MeterKind == models.MeterDistance
	})).Return(nil).Once()

	asset, err := g.UpdateAsset(context.Background(), director, "asset-1", models.AssetPatch{Color: strPtr(" red ")})
	require.NoError(t, err)
	assert.Equal(t, "red", asset.Color)

	_, err = g.UpdateAsset(context.Background(), director, "asset-1", models.AssetPatch{Name: strPtr(" ")})
	assert.ErrorIs(t, err, models.ErrValidation)

	_, err = g.UpdateAsset(context.Background(), operator, "asset-1", models.AssetPatch{Color: strPtr("red")})
	assert.ErrorIs(t, err, models.ErrPermissionDenied)
	store.AssertExpectations(t)
}

func TestBootstrap(t *testing.T) {
	g, provider, store, _ := newGateway()
	store.On("FindProfiles", mock.Anything, []models.Role{models.RoleFleetAdmin}).Return([]models.Profile{}, nil).Once()
	provider.On("CreateIdentity", mock.Anything, "root@example.com", "password123").Return("uuid-root", nil).Once()
	store.On("InsertProfile", mock.Anything, mock.MatchedBy(func(p models.Profile) bool {
		return p.Role == models.RoleFleetAdmin
	})).Return(nil).Once()

	profile, err := g.Bootstrap(context.Background(), "Root", "Root@Example.com", "password123")
	require.NoError(t, err)
	assert.Equal(t, "uuid-root", profile.ID)

	store.On("FindProfiles", mock.Anything, []models.Role{models.RoleFleetAdmin}).
		Return([]models.Profile{{ID: "uuid-root"}}, nil).Once()
	profile, err = g.Bootstrap(context.Background(), "Root", "root@example.com", "password123")
	require.NoError(t, err)
	assert.Nil(t, profile)
	provider.AssertNumberOfCalls(t, "CreateIdentity", 1)
}
