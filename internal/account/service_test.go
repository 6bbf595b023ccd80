package account

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"accounts/internal/auth"
	"accounts/internal/db"
	"accounts/internal/media"
	"accounts/internal/models"
)

const (
	testAccessSecret  = "access-secret-access-secret-access-secret"
	testRefreshSecret = "refresh-secret-refresh-secret-refresh-secret"
)

type fakeMediaHost struct {
	mu      sync.Mutex
	fail    map[media.Kind]bool
	uploads []media.Kind
}

func (h *fakeMediaHost) Upload(_ context.Context, kind media.Kind, src *media.Source) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.fail[kind] {
		return "", errors.New("upload rejected")
	}
	h.uploads = append(h.uploads, kind)
	return fmt.Sprintf("https://cdn.example.com/%s/%d-%s", kind, len(h.uploads), src.Filename), nil
}

type testEnv struct {
	service *Service
	users   *db.UserRepository
	tokens  *auth.TokenService
	media   *fakeMediaHost
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	database, err := db.Open(context.Background(), db.DriverSQLite, filepath.Join(t.TempDir(), "accounts.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })

	users := db.NewUserRepository(database)
	tokens := auth.NewTokenService(testAccessSecret, testRefreshSecret, time.Hour, 240*time.Hour)
	host := &fakeMediaHost{fail: map[media.Kind]bool{}}

	return &testEnv{
		service: NewService(users, tokens, auth.NewPasswordHasher(bcrypt.MinCost), host),
		users:   users,
		tokens:  tokens,
		media:   host,
	}
}

// withStore returns a service sharing env's tokens and media host but backed
// by store.
func (env *testEnv) withStore(store CredentialStore) *Service {
	return NewService(store, env.tokens, auth.NewPasswordHasher(bcrypt.MinCost), env.media)
}

// faultyStore wraps a real store. hideExisting makes lookups miss until
// Create runs, the view a request has when a concurrent insert wins.
type faultyStore struct {
	CredentialStore
	createErr    error
	findByIDErr  error
	hideExisting bool
}

func (s *faultyStore) Create(ctx context.Context, params models.NewUser) (*models.User, error) {
	s.hideExisting = false
	if s.createErr != nil {
		return nil, s.createErr
	}
	return s.CredentialStore.Create(ctx, params)
}

func (s *faultyStore) FindByID(ctx context.Context, id string) (*models.User, error) {
	if s.findByIDErr != nil {
		return nil, s.findByIDErr
	}
	return s.CredentialStore.FindByID(ctx, id)
}

func (s *faultyStore) FindByUsername(ctx context.Context, username string) (*models.User, error) {
	if s.hideExisting {
		return nil, db.ErrNotFound
	}
	return s.CredentialStore.FindByUsername(ctx, username)
}

func (s *faultyStore) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	if s.hideExisting {
		return nil, db.ErrNotFound
	}
	return s.CredentialStore.FindByEmail(ctx, email)
}

func avatarSource() *media.Source {
	return &media.Source{Filename: "avatar.png", Body: strings.NewReader("png")}
}

func registerInput(username, email string) RegisterInput {
	return RegisterInput{
		FullName: "Test " + username,
		Email:    email,
		Username: username,
		Password: "correct horse",
		Avatar:   avatarSource(),
	}
}

func requireKind(t *testing.T, err error, want Kind) *Error {
	t.Helper()

	var accountErr *Error
	require.ErrorAs(t, err, &accountErr)
	require.Equal(t, want, accountErr.Kind, "message: %s", accountErr.Message)
	return accountErr
}

func TestRegisterCreatesSanitizedUser(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	in := registerInput("Alice", "alice@example.com")
	in.FullName = "  <b>Alice</b> Liddell "
	in.CoverImage = &media.Source{Filename: "cover.png", Body: strings.NewReader("png")}

	user, err := env.service.Register(ctx, in)
	require.NoError(t, err)

	assert.Equal(t, "alice", user.Username)
	assert.Equal(t, "Alice Liddell", user.FullName)
	assert.NotEmpty(t, user.AvatarURL)
	assert.NotEmpty(t, user.CoverImageURL)
	assert.Empty(t, user.PasswordHash)
	assert.Nil(t, user.RefreshToken)

	stored, err := env.users.FindByID(ctx, user.ID)
	require.NoError(t, err)
	assert.NotEqual(t, "correct horse", stored.PasswordHash)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(stored.PasswordHash), []byte("correct horse")))
}

func TestRegisterValidation(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name    string
		mutate  func(*RegisterInput)
		message string
	}{
		{"blank full name", func(in *RegisterInput) { in.FullName = "   " }, "All fields are required"},
		{"blank email", func(in *RegisterInput) { in.Email = "" }, "All fields are required"},
		{"blank username", func(in *RegisterInput) { in.Username = " " }, "All fields are required"},
		{"blank password", func(in *RegisterInput) { in.Password = "" }, "All fields are required"},
		{"bad email", func(in *RegisterInput) { in.Email = "not-an-email" }, "Invalid email format"},
		{"long password", func(in *RegisterInput) { in.Password = strings.Repeat("x", 73) }, "Password must be at most 72 bytes"},
		{"missing avatar", func(in *RegisterInput) { in.Avatar = nil }, "Avatar image is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := registerInput("bob", "bob@example.com")
			tt.mutate(&in)

			_, err := env.service.Register(context.Background(), in)
			accountErr := requireKind(t, err, KindValidation)
			assert.Equal(t, tt.message, accountErr.Message)
		})
	}
}

func TestRegisterAcceptsFreeFormUsernames(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	for _, username := range []string{"john.doe", "al", "x"} {
		user, err := env.service.Register(ctx, registerInput(username, username+"@example.com"))
		require.NoError(t, err, username)
		assert.Equal(t, username, user.Username)
	}

	_, err := env.service.Register(ctx, registerInput("John.Doe", "other@example.com"))
	accountErr := requireKind(t, err, KindConflict)
	assert.Equal(t, "Username john.doe already exists", accountErr.Message)

	_, err = env.service.Register(ctx, registerInput(strings.Repeat("u", 65), "long@example.com"))
	requireKind(t, err, KindValidation)
}

func TestRegisterRejectsMarkupOnlyFullName(t *testing.T) {
	env := newTestEnv(t)

	in := registerInput("ruth", "ruth@example.com")
	in.FullName = "<b></b>"

	_, err := env.service.Register(context.Background(), in)
	accountErr := requireKind(t, err, KindValidation)
	assert.Equal(t, "All fields are required", accountErr.Message)
}

func TestRegisterInsertRaceNamesCollidingField(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.service.Register(ctx, registerInput("sam", "sam@example.com"))
	require.NoError(t, err)

	store := &faultyStore{CredentialStore: env.users, hideExisting: true}
	_, err = env.withStore(store).Register(ctx, registerInput("sam", "sam2@example.com"))
	accountErr := requireKind(t, err, KindConflict)
	assert.Equal(t, "Username sam already exists", accountErr.Message)

	store = &faultyStore{CredentialStore: env.users, hideExisting: true}
	_, err = env.withStore(store).Register(ctx, registerInput("sam2", "sam@example.com"))
	accountErr = requireKind(t, err, KindConflict)
	assert.Equal(t, "Email sam@example.com has been used", accountErr.Message)
}

func TestRegisterDuplicateOnCreateIsConflict(t *testing.T) {
	env := newTestEnv(t)
	store := &faultyStore{CredentialStore: env.users, createErr: db.ErrDuplicate}

	_, err := env.withStore(store).Register(context.Background(), registerInput("tina", "tina@example.com"))
	accountErr := requireKind(t, err, KindConflict)
	assert.Equal(t, "Username or email already exists", accountErr.Message)
}

func TestRegisterRefetchFailureIsInternal(t *testing.T) {
	env := newTestEnv(t)
	store := &faultyStore{CredentialStore: env.users, findByIDErr: errors.New("connection reset")}

	_, err := env.withStore(store).Register(context.Background(), registerInput("uma", "uma@example.com"))
	requireKind(t, err, KindInternal)
}

func TestRegisterAvatarUploadFailure(t *testing.T) {
	env := newTestEnv(t)
	env.media.fail[media.KindAvatar] = true

	in := registerInput("carol", "carol@example.com")
	in.CoverImage = &media.Source{Filename: "cover.png", Body: strings.NewReader("png")}

	_, err := env.service.Register(context.Background(), in)
	accountErr := requireKind(t, err, KindValidation)
	assert.Equal(t, "Avatar image is required", accountErr.Message)
	assert.Empty(t, env.media.uploads, "cover image must not be stored once the avatar failed")

	_, err = env.users.FindByUsername(context.Background(), "carol")
	assert.ErrorIs(t, err, db.ErrNotFound)
}

func TestRegisterCoverFailureIsTolerated(t *testing.T) {
	env := newTestEnv(t)
	env.media.fail[media.KindCoverImage] = true

	in := registerInput("dave", "dave@example.com")
	in.CoverImage = &media.Source{Filename: "cover.png", Body: strings.NewReader("png")}

	user, err := env.service.Register(context.Background(), in)
	require.NoError(t, err)
	assert.Empty(t, user.CoverImageURL)
}

func TestRegisterConflictNamesUsernameFirst(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.service.Register(ctx, registerInput("erin", "erin@example.com"))
	require.NoError(t, err)

	_, err = env.service.Register(ctx, registerInput("ERIN", "erin@example.com"))
	accountErr := requireKind(t, err, KindConflict)
	assert.Contains(t, accountErr.Message, "erin")
	assert.Contains(t, accountErr.Message, "Username")

	_, err = env.service.Register(ctx, registerInput("frank", "erin@example.com"))
	accountErr = requireKind(t, err, KindConflict)
	assert.Contains(t, accountErr.Message, "erin@example.com")
}

func TestLoginIssuesVerifiableTokens(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	registered, err := env.service.Register(ctx, registerInput("gina", "gina@example.com"))
	require.NoError(t, err)

	session, err := env.service.Login(ctx, "", "GINA", "correct horse")
	require.NoError(t, err)
	assert.Equal(t, registered.ID, session.User.ID)
	assert.Nil(t, session.User.RefreshToken)

	claims, err := env.tokens.VerifyAccessToken(session.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, registered.ID, claims.UserID)
	assert.Equal(t, "gina", claims.Username)

	stored, err := env.users.FindByID(ctx, registered.ID)
	require.NoError(t, err)
	assert.Equal(t, session.RefreshToken, stored.GetRefreshToken())
}

func TestLoginFailures(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.service.Register(ctx, registerInput("hank", "hank@example.com"))
	require.NoError(t, err)

	_, err = env.service.Login(ctx, "", "", "correct horse")
	requireKind(t, err, KindValidation)

	_, err = env.service.Login(ctx, "nobody@example.com", "", "correct horse")
	accountErr := requireKind(t, err, KindNotFound)
	assert.Equal(t, "User does not exist", accountErr.Message)

	_, err = env.service.Login(ctx, "hank@example.com", "", "wrong")
	accountErr = requireKind(t, err, KindValidation)
	assert.Equal(t, "Invalid user credentials", accountErr.Message)
}

func loginSession(t *testing.T, env *testEnv, username string) *Session {
	t.Helper()

	_, err := env.service.Register(context.Background(), registerInput(username, username+"@example.com"))
	require.NoError(t, err)

	session, err := env.service.Login(context.Background(), "", username, "correct horse")
	require.NoError(t, err)
	return session
}

func TestRefreshRotatesToken(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	session := loginSession(t, env, "iris")

	pair, err := env.service.RefreshSession(ctx, session.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, session.RefreshToken, pair.RefreshToken)

	_, err = env.tokens.VerifyAccessToken(pair.AccessToken)
	require.NoError(t, err)

	_, err = env.service.RefreshSession(ctx, session.RefreshToken)
	accountErr := requireKind(t, err, KindUnauthorized)
	assert.Equal(t, "Refresh token is expired or used", accountErr.Message)

	_, err = env.service.RefreshSession(ctx, pair.RefreshToken)
	require.NoError(t, err)
}

func TestRefreshRejectsBadInput(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	session := loginSession(t, env, "jack")

	_, err := env.service.RefreshSession(ctx, "")
	accountErr := requireKind(t, err, KindUnauthorized)
	assert.Equal(t, "Unauthorized request", accountErr.Message)

	_, err = env.service.RefreshSession(ctx, "garbage")
	accountErr = requireKind(t, err, KindUnauthorized)
	assert.Equal(t, "token is malformed", accountErr.Message)

	_, err = env.service.RefreshSession(ctx, session.AccessToken)
	requireKind(t, err, KindUnauthorized)
}

func TestConcurrentRefreshHasOneWinner(t *testing.T) {
	env := newTestEnv(t)
	session := loginSession(t, env, "kate")

	const callers = 2
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		failures  []error
	)
	start := make(chan struct{})

	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := env.service.RefreshSession(context.Background(), session.RefreshToken)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				successes++
			} else {
				failures = append(failures, err)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, 1, successes)
	require.Len(t, failures, callers-1)
	for _, err := range failures {
		assert.Equal(t, KindUnauthorized, KindOf(err))
	}
}

func TestLogoutRevokesRefreshToken(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	session := loginSession(t, env, "liam")

	require.NoError(t, env.service.Logout(ctx, session.User.ID))

	stored, err := env.users.FindByID(ctx, session.User.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.RefreshToken)

	_, err = env.service.RefreshSession(ctx, session.RefreshToken)
	requireKind(t, err, KindUnauthorized)

	require.NoError(t, env.service.Logout(ctx, "usr_missing"))
}

func TestChangePassword(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	session := loginSession(t, env, "mona")

	err := env.service.ChangePassword(ctx, session.User.ID, "wrong", "new secret")
	accountErr := requireKind(t, err, KindValidation)
	assert.Equal(t, "Invalid old password", accountErr.Message)

	_, err = env.service.Login(ctx, "", "mona", "correct horse")
	require.NoError(t, err, "hash must be unchanged after a failed change")

	err = env.service.ChangePassword(ctx, session.User.ID, "correct horse", "")
	requireKind(t, err, KindValidation)

	require.NoError(t, env.service.ChangePassword(ctx, session.User.ID, "correct horse", "new secret"))

	_, err = env.service.Login(ctx, "", "mona", "correct horse")
	requireKind(t, err, KindValidation)

	_, err = env.service.Login(ctx, "", "mona", "new secret")
	require.NoError(t, err)

	err = env.service.ChangePassword(ctx, "usr_missing", "x", "y")
	requireKind(t, err, KindNotFound)
}

func TestAuthenticate(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	session := loginSession(t, env, "nora")

	user, err := env.service.Authenticate(ctx, session.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, session.User.ID, user.ID)
	assert.Empty(t, user.PasswordHash)
	assert.Nil(t, user.RefreshToken)

	_, err = env.service.Authenticate(ctx, session.RefreshToken)
	requireKind(t, err, KindUnauthorized)

	_, err = env.service.Authenticate(ctx, "")
	requireKind(t, err, KindUnauthorized)
}

func TestUpdateAccountDetails(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	session := loginSession(t, env, "owen")
	loginSession(t, env, "pia")

	user, err := env.service.UpdateAccountDetails(ctx, session.User.ID, " Owen Wilson ", "owen.w@example.com")
	require.NoError(t, err)
	assert.Equal(t, "Owen Wilson", user.FullName)
	assert.Equal(t, "owen.w@example.com", user.Email)

	_, err = env.service.UpdateAccountDetails(ctx, session.User.ID, "", "owen.w@example.com")
	requireKind(t, err, KindValidation)

	_, err = env.service.UpdateAccountDetails(ctx, session.User.ID, "Owen", "bad")
	requireKind(t, err, KindValidation)

	_, err = env.service.UpdateAccountDetails(ctx, session.User.ID, "<i></i>", "owen.w@example.com")
	requireKind(t, err, KindValidation)

	_, err = env.service.UpdateAccountDetails(ctx, session.User.ID, "Owen", "pia@example.com")
	requireKind(t, err, KindConflict)
}

func TestUpdateImages(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	session := loginSession(t, env, "quinn")

	user, err := env.service.UpdateAvatar(ctx, session.User.ID, avatarSource())
	require.NoError(t, err)
	assert.NotEqual(t, session.User.AvatarURL, user.AvatarURL)

	user, err = env.service.UpdateCoverImage(ctx, session.User.ID, &media.Source{Filename: "c.png", Body: strings.NewReader("png")})
	require.NoError(t, err)
	assert.NotEmpty(t, user.CoverImageURL)

	_, err = env.service.UpdateAvatar(ctx, session.User.ID, nil)
	requireKind(t, err, KindValidation)

	env.media.fail[media.KindCoverImage] = true
	_, err = env.service.UpdateCoverImage(ctx, session.User.ID, avatarSource())
	accountErr := requireKind(t, err, KindValidation)
	assert.Equal(t, "Error while uploading cover image", accountErr.Message)
}
