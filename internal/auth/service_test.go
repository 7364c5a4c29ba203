package auth

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkrivan/go-auth-api/internal/logging"
	"github.com/mkrivan/go-auth-api/internal/user"
)

// --- fakes ---

type fakeUserStore struct {
	mu      sync.Mutex
	byEmail map[string]*user.User
	byID    map[uuid.UUID]*user.User
}

func newFakeUserStore() *fakeUserStore {
	return &fakeUserStore{
		byEmail: make(map[string]*user.User),
		byID:    make(map[uuid.UUID]*user.User),
	}
}

func (f *fakeUserStore) CreateLocal(_ context.Context, name, email, passwordHash string) (*user.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, exists := f.byEmail[email]; exists {
		return nil, user.ErrDuplicateEmail
	}

	u := &user.User{
		ID:           uuid.New(),
		Email:        email,
		Name:         name,
		PasswordHash: passwordHash,
		AccountType:  user.AccountTypeLocal,
		CreatedAt:    time.Now(),
		UpdatedAt:    time.Now(),
	}
	f.byEmail[email] = u
	f.byID[u.ID] = u
	return u, nil
}

func (f *fakeUserStore) CreateFederated(_ context.Context, name, email, provider string) (*user.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, exists := f.byEmail[email]; exists {
		return nil, user.ErrDuplicateEmail
	}

	now := time.Now()
	u := &user.User{
		ID:              uuid.New(),
		Email:           email,
		Name:            name,
		AccountType:     user.AccountTypeFederated,
		Provider:        &provider,
		EmailVerifiedAt: &now,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	f.byEmail[email] = u
	f.byID[u.ID] = u
	return u, nil
}

func (f *fakeUserStore) GetByEmail(_ context.Context, email string) (*user.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	u, ok := f.byEmail[email]
	if !ok {
		return nil, user.ErrNotFound
	}
	return u, nil
}

func (f *fakeUserStore) GetByID(_ context.Context, id uuid.UUID) (*user.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	u, ok := f.byID[id]
	if !ok {
		return nil, user.ErrNotFound
	}
	return u, nil
}

func (f *fakeUserStore) MarkEmailVerified(_ context.Context, userID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	u, ok := f.byID[userID]
	if !ok || u.EmailVerifiedAt != nil {
		return user.ErrNotFound
	}
	now := time.Now()
	u.EmailVerifiedAt = &now
	return nil
}

type fakeRefreshLedger struct {
	mu      sync.Mutex
	records map[string]*RefreshTokenRecord
	counter int
}

func newFakeRefreshLedger() *fakeRefreshLedger {
	return &fakeRefreshLedger{records: make(map[string]*RefreshTokenRecord)}
}

func (f *fakeRefreshLedger) Issue(_ context.Context, userID uuid.UUID) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.counter++
	token := fmt.Sprintf("refresh-%d-%s", f.counter, userID)
	f.records[hashToken(token)] = &RefreshTokenRecord{
		UserID:    userID,
		TokenHash: hashToken(token),
		CreatedAt: time.Now(),
	}
	return token, nil
}

func (f *fakeRefreshLedger) Consume(_ context.Context, token string) (*RefreshTokenRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	record, ok := f.records[hashToken(token)]
	if !ok {
		return nil, nil
	}
	delete(f.records, hashToken(token))
	return record, nil
}

func (f *fakeRefreshLedger) RevokeAll(_ context.Context, userID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	for hash, record := range f.records {
		if record.UserID == userID {
			delete(f.records, hash)
		}
	}
	return nil
}

func (f *fakeRefreshLedger) countFor(userID uuid.UUID) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	n := 0
	for _, record := range f.records {
		if record.UserID == userID {
			n++
		}
	}
	return n
}

type fakeVerificationLedger struct {
	mu      sync.Mutex
	records map[string]*EmailVerificationRecord
	counter int
}

func newFakeVerificationLedger() *fakeVerificationLedger {
	return &fakeVerificationLedger{records: make(map[string]*EmailVerificationRecord)}
}

func (f *fakeVerificationLedger) Issue(_ context.Context, userID uuid.UUID, ttl time.Duration) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.counter++
	token := fmt.Sprintf("verify-%d", f.counter)
	f.records[hashToken(token)] = &EmailVerificationRecord{
		UserID:    userID,
		ExpiresAt: time.Now().Add(ttl),
	}
	return token, nil
}

func (f *fakeVerificationLedger) Consume(_ context.Context, token string) (*EmailVerificationRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	record, ok := f.records[hashToken(token)]
	if !ok {
		return nil, nil
	}
	delete(f.records, hashToken(token))

	if time.Now().After(record.ExpiresAt) {
		return nil, nil
	}
	return record, nil
}

func (f *fakeVerificationLedger) lastToken() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return fmt.Sprintf("verify-%d", f.counter)
}

type fakeMailer struct {
	mu   sync.Mutex
	sent []string
}

func (f *fakeMailer) SendVerificationEmail(_ context.Context, toEmail, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, toEmail)
	return nil
}

func (f *fakeMailer) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

// --- harness ---

type serviceHarness struct {
	service       *Service
	users         *fakeUserStore
	refreshLedger *fakeRefreshLedger
	verifications *fakeVerificationLedger
	mailer        *fakeMailer
	codec         TokenCodec
}

func newServiceHarness(t *testing.T) *serviceHarness {
	t.Helper()

	users := newFakeUserStore()
	refreshLedger := newFakeRefreshLedger()
	verifications := newFakeVerificationLedger()
	mailer := &fakeMailer{}
	codec := NewJWTCodec(testAccessSecret, testRefreshSecret, time.Minute, time.Hour)

	service := NewService(
		users,
		refreshLedger,
		verifications,
		NewIdentityLinker(users),
		codec,
		NewHasher(),
		mailer,
		logging.NewLogger(true),
	)

	return &serviceHarness{
		service:       service,
		users:         users,
		refreshLedger: refreshLedger,
		verifications: verifications,
		mailer:        mailer,
		codec:         codec,
	}
}

// signupVerified creates a verified local account ready to log in.
func (h *serviceHarness) signupVerified(t *testing.T, email, password string) *user.User {
	t.Helper()

	ctx := context.Background()
	u, err := h.service.Signup(ctx, "tester", email, password)
	require.NoError(t, err)
	require.NoError(t, h.service.VerifyEmail(ctx, h.verifications.lastToken()))
	return u
}

// --- signup ---

func TestSignup(t *testing.T) {
	t.Parallel()

	h := newServiceHarness(t)
	ctx := context.Background()

	created, err := h.service.Signup(ctx, "alice", "alice@example.com", "password123")
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", created.Email)
	assert.Equal(t, "alice", created.Name)
	assert.False(t, created.IsVerified())
	assert.False(t, created.IsFederated())
	assert.NotEqual(t, "password123", created.PasswordHash)

	// The verification link goes out asynchronously.
	assert.Eventually(t, func() bool { return h.mailer.sentCount() == 1 }, time.Second, 10*time.Millisecond)
}

func TestSignupValidation(t *testing.T) {
	t.Parallel()

	h := newServiceHarness(t)
	ctx := context.Background()

	cases := []struct {
		name     string
		username string
		email    string
		password string
		wantErr  error
	}{
		{"missing username", "", "a@example.com", "password123", ErrUsernameRequired},
		{"missing email", "alice", "", "password123", ErrEmailRequired},
		{"bad email", "alice", "not-an-email", "password123", ErrInvalidEmailFormat},
		{"missing password", "alice", "a@example.com", "", ErrPasswordRequired},
		{"short password", "alice", "a@example.com", "short", ErrPasswordTooShort},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := h.service.Signup(ctx, tc.username, tc.email, tc.password)
			assert.ErrorIs(t, err, tc.wantErr)
		})
	}
}

func TestSignupDuplicateEmail(t *testing.T) {
	t.Parallel()

	h := newServiceHarness(t)
	ctx := context.Background()

	_, err := h.service.Signup(ctx, "alice", "alice@example.com", "password123")
	require.NoError(t, err)

	_, err = h.service.Signup(ctx, "imposter", "alice@example.com", "password456")
	assert.ErrorIs(t, err, user.ErrDuplicateEmail)
}

// --- login ---

func TestLogin(t *testing.T) {
	t.Parallel()

	h := newServiceHarness(t)
	created := h.signupVerified(t, "alice@example.com", "password123")

	tokens, err := h.service.Login(context.Background(), "alice@example.com", "password123", "")
	require.NoError(t, err)
	assert.NotEmpty(t, tokens.AccessToken)
	assert.NotEmpty(t, tokens.RefreshToken)

	claims, err := h.codec.VerifyAccess(tokens.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, created.ID, claims.UserID)

	assert.Equal(t, 1, h.refreshLedger.countFor(created.ID))
}

func TestLoginFailuresAreIndistinguishable(t *testing.T) {
	t.Parallel()

	h := newServiceHarness(t)
	ctx := context.Background()

	h.signupVerified(t, "alice@example.com", "password123")

	_, err := h.users.CreateFederated(ctx, "Fed User", "fed@example.com", "google")
	require.NoError(t, err)

	// Unknown email, wrong password and federated-only account all fail the
	// same way so responses cannot be used to probe for accounts.
	_, err = h.service.Login(ctx, "nobody@example.com", "password123", "")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = h.service.Login(ctx, "alice@example.com", "wrongpassword", "")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = h.service.Login(ctx, "fed@example.com", "password123", "")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = h.service.Login(ctx, "", "", "")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestLoginUnverifiedEmail(t *testing.T) {
	t.Parallel()

	h := newServiceHarness(t)
	ctx := context.Background()

	_, err := h.service.Signup(ctx, "alice", "alice@example.com", "password123")
	require.NoError(t, err)

	_, err = h.service.Login(ctx, "alice@example.com", "password123", "")
	assert.ErrorIs(t, err, ErrEmailNotVerified)
}

func TestLoginConsumesStaleToken(t *testing.T) {
	t.Parallel()

	h := newServiceHarness(t)
	ctx := context.Background()
	created := h.signupVerified(t, "alice@example.com", "password123")

	first, err := h.service.Login(ctx, "alice@example.com", "password123", "")
	require.NoError(t, err)

	// Logging in again with the old cookie retires it; only the session
	// from the second login remains live.
	second, err := h.service.Login(ctx, "alice@example.com", "password123", first.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, first.RefreshToken, second.RefreshToken)
	assert.Equal(t, 1, h.refreshLedger.countFor(created.ID))

	record, err := h.refreshLedger.Consume(ctx, first.RefreshToken)
	require.NoError(t, err)
	assert.Nil(t, record)
}

func TestLoginWithForeignStaleTokenRevokesOwner(t *testing.T) {
	t.Parallel()

	h := newServiceHarness(t)
	ctx := context.Background()

	victim := h.signupVerified(t, "victim@example.com", "password123")
	h.signupVerified(t, "attacker@example.com", "password456")

	victimTokens, err := h.service.Login(ctx, "victim@example.com", "password123", "")
	require.NoError(t, err)
	_, err = h.service.Login(ctx, "victim@example.com", "password123", "")
	require.NoError(t, err)
	require.Equal(t, 2, h.refreshLedger.countFor(victim.ID))

	// Someone logging in as a different user while presenting the victim's
	// cookie means that cookie leaked: every victim session is revoked.
	_, err = h.service.Login(ctx, "attacker@example.com", "password456", victimTokens.RefreshToken)
	require.NoError(t, err)

	assert.Equal(t, 0, h.refreshLedger.countFor(victim.ID))
}

// --- refresh / logout ---

func TestRefreshIssuesNewPair(t *testing.T) {
	t.Parallel()

	h := newServiceHarness(t)
	ctx := context.Background()
	created := h.signupVerified(t, "alice@example.com", "password123")

	tokens, err := h.service.Refresh(ctx, created.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, tokens.AccessToken)
	assert.Equal(t, 1, h.refreshLedger.countFor(created.ID))

	claims, err := h.codec.VerifyAccess(tokens.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, created.ID, claims.UserID)
}

func TestLogoutIsIdempotent(t *testing.T) {
	t.Parallel()

	h := newServiceHarness(t)
	ctx := context.Background()
	created := h.signupVerified(t, "alice@example.com", "password123")

	tokens, err := h.service.Login(ctx, "alice@example.com", "password123", "")
	require.NoError(t, err)

	h.service.Logout(ctx, tokens.RefreshToken)
	assert.Equal(t, 0, h.refreshLedger.countFor(created.ID))

	// Repeating with the same token, an unknown token or no token at all
	// is a no-op, never an error.
	h.service.Logout(ctx, tokens.RefreshToken)
	h.service.Logout(ctx, "unknown-token")
	h.service.Logout(ctx, "")
}

// --- email verification ---

func TestVerifyEmail(t *testing.T) {
	t.Parallel()

	h := newServiceHarness(t)
	ctx := context.Background()

	created, err := h.service.Signup(ctx, "alice", "alice@example.com", "password123")
	require.NoError(t, err)

	token := h.verifications.lastToken()
	require.NoError(t, h.service.VerifyEmail(ctx, token))

	stored, err := h.users.GetByID(ctx, created.ID)
	require.NoError(t, err)
	assert.True(t, stored.IsVerified())

	// Second redemption of the same token fails: it was consumed.
	assert.ErrorIs(t, h.service.VerifyEmail(ctx, token), ErrInvalidVerificationToken)
}

func TestVerifyEmailUnknownToken(t *testing.T) {
	t.Parallel()

	h := newServiceHarness(t)

	err := h.service.VerifyEmail(context.Background(), "no-such-token")
	assert.ErrorIs(t, err, ErrInvalidVerificationToken)
}

func TestResendVerificationEmail(t *testing.T) {
	t.Parallel()

	h := newServiceHarness(t)
	ctx := context.Background()

	_, err := h.service.Signup(ctx, "alice", "alice@example.com", "password123")
	require.NoError(t, err)
	assert.Eventually(t, func() bool { return h.mailer.sentCount() == 1 }, time.Second, 10*time.Millisecond)

	require.NoError(t, h.service.ResendVerificationEmail(ctx, "alice@example.com"))
	assert.Eventually(t, func() bool { return h.mailer.sentCount() == 2 }, time.Second, 10*time.Millisecond)

	// Unknown and already-verified addresses answer identically, and send
	// nothing.
	require.NoError(t, h.service.ResendVerificationEmail(ctx, "nobody@example.com"))
	require.NoError(t, h.service.VerifyEmail(ctx, h.verifications.lastToken()))
	require.NoError(t, h.service.ResendVerificationEmail(ctx, "alice@example.com"))

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 2, h.mailer.sentCount())
}

// --- federated login ---

func TestFederatedCallbackCreatesVerifiedUser(t *testing.T) {
	t.Parallel()

	h := newServiceHarness(t)
	ctx := context.Background()

	tokens, err := h.service.FederatedCallback(ctx, "fed@example.com", "Fed User", "google", "")
	require.NoError(t, err)
	assert.NotEmpty(t, tokens.AccessToken)
	assert.NotEmpty(t, tokens.RefreshToken)

	stored, err := h.users.GetByEmail(ctx, "fed@example.com")
	require.NoError(t, err)
	assert.True(t, stored.IsFederated())
	assert.True(t, stored.IsVerified())
	assert.Equal(t, "google", stored.ProviderName())
}

func TestFederatedCallbackSameProviderReturnsSameUser(t *testing.T) {
	t.Parallel()

	h := newServiceHarness(t)
	ctx := context.Background()

	_, err := h.service.FederatedCallback(ctx, "fed@example.com", "Fed User", "google", "")
	require.NoError(t, err)

	first, err := h.users.GetByEmail(ctx, "fed@example.com")
	require.NoError(t, err)

	_, err = h.service.FederatedCallback(ctx, "fed@example.com", "Fed User", "google", "")
	require.NoError(t, err)

	second, err := h.users.GetByEmail(ctx, "fed@example.com")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
}

func TestFederatedCallbackRejectsOtherLoginMethods(t *testing.T) {
	t.Parallel()

	h := newServiceHarness(t)
	ctx := context.Background()

	h.signupVerified(t, "local@example.com", "password123")
	_, err := h.service.FederatedCallback(ctx, "fed@example.com", "Fed User", "google", "")
	require.NoError(t, err)

	// A provider callback must not capture an account created locally or
	// through another provider.
	_, err = h.service.FederatedCallback(ctx, "local@example.com", "Local User", "google", "")
	assert.ErrorIs(t, err, ErrProviderMismatch)

	_, err = h.service.FederatedCallback(ctx, "fed@example.com", "Fed User", "microsoft", "")
	assert.ErrorIs(t, err, ErrProviderMismatch)
}

func TestFederatedCallbackRequiresEmail(t *testing.T) {
	t.Parallel()

	h := newServiceHarness(t)

	_, err := h.service.FederatedCallback(context.Background(), "", "No Email", "apple", "")
	assert.ErrorIs(t, err, ErrIdentityNoEmail)
}

// --- single-use guarantee ---

func TestRefreshLedgerConsumeHasOneWinner(t *testing.T) {
	t.Parallel()

	ledger := newFakeRefreshLedger()
	ctx := context.Background()
	userID := uuid.New()

	token, err := ledger.Issue(ctx, userID)
	require.NoError(t, err)

	const racers = 32
	var wg sync.WaitGroup
	winners := make(chan *RefreshTokenRecord, racers)

	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			record, err := ledger.Consume(ctx, token)
			assert.NoError(t, err)
			if record != nil {
				winners <- record
			}
		}()
	}

	wg.Wait()
	close(winners)

	var won []*RefreshTokenRecord
	for record := range winners {
		won = append(won, record)
	}
	require.Len(t, won, 1)
	assert.Equal(t, userID, won[0].UserID)
}
