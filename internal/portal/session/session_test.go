package session

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/macalisterfamily11-pixel/bnr-bank/internal/portal/activity"
	"github.com/macalisterfamily11-pixel/bnr-bank/internal/portal/identity"
	"github.com/macalisterfamily11-pixel/bnr-bank/internal/portal/kv"
	"golang.org/x/crypto/bcrypt"
	"go.uber.org/zap"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type harness struct {
	mgr      *Manager
	clock    *fakeClock
	kv       *kv.Memory
	ids      *identity.MemoryStore
	activity *activity.Store
	notices  []Notice
}

func newHarness(t testing.TB, tweak func(*Options)) *harness {
	t.Helper()
	seeded, err := identity.Build(identity.DefaultSeed(), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	ids, err := identity.NewMemoryStore(seeded...)
	if err != nil {
		t.Fatal(err)
	}
	h := &harness{clock: newFakeClock(), kv: kv.NewMemory(), ids: ids}
	h.activity, err = activity.NewStore(context.Background(), h.kv, activity.DefaultLimit, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	h.mgr = h.newManager(tweak)
	return h
}

func (h *harness) newManager(tweak func(*Options)) *Manager {
	opts := Options{
		ChallengeRequired: true,
		HashCost:          bcrypt.MinCost,
		Now:               h.clock.Now,
		Notifier: NotifierFunc(func(_ context.Context, n Notice) {
			h.notices = append(h.notices, n)
		}),
	}
	if tweak != nil {
		tweak(&opts)
	}
	return NewManager(h.ids, h.kv, h.activity, opts, zap.NewNop())
}

func (h *harness) login(t testing.TB, username, password string) (*Record, error) {
	t.Helper()
	c, err := h.mgr.IssueChallenge()
	if err != nil {
		t.Fatal(err)
	}
	return h.mgr.Login(context.Background(), Credentials{
		Username:          username,
		Secret:            password,
		Institution:       "BNR",
		ChallengeResponse: c.Answer,
		Origin:            "10.0.0.7",
	})
}

func (h *harness) mustLogin(t testing.TB, username, password string) *Record {
	t.Helper()
	rec, err := h.login(t, username, password)
	if err != nil {
		t.Fatalf("login %s: %v", username, err)
	}
	return rec
}

func TestLoginSuccess(t *testing.T) {
	h := newHarness(t, nil)

	rec := h.mustLogin(t, "client", "Client123!")
	if rec.Role != identity.RoleClient {
		t.Fatalf("expected role client, got %s", rec.Role)
	}
	if rec.DisplayName != "Ion Popescu" || rec.Institution != "BNR" {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if !strings.HasPrefix(rec.ID, "sess_") || len(rec.ID) != len("sess_")+32 {
		t.Fatalf("unexpected session id %q", rec.ID)
	}
	if rec.Identity.SecretHash != "" {
		t.Fatal("session record must not carry the secret hash")
	}
	if h.mgr.FailedAttempts() != 0 {
		t.Fatalf("expected 0 failed attempts, got %d", h.mgr.FailedAttempts())
	}
	if !h.mgr.IsAuthenticated() || h.mgr.State() != StateActive {
		t.Fatalf("expected active session, state=%s", h.mgr.State())
	}
	if !rec.LastActivity.Equal(h.clock.Now()) {
		t.Fatalf("last activity = %s, want %s", rec.LastActivity, h.clock.Now())
	}

	data, err := h.kv.Get(context.Background(), StorageKey)
	if err != nil {
		t.Fatalf("expected persisted session: %v", err)
	}
	var stored struct {
		User      Record `json:"user"`
		Timestamp int64  `json:"timestamp"`
	}
	if err := json.Unmarshal(data, &stored); err != nil {
		t.Fatal(err)
	}
	if stored.User.Username != "client" || stored.Timestamp != h.clock.Now().UnixMilli() {
		t.Fatalf("unexpected persisted record: %+v", stored)
	}

	entries := h.mgr.ActivityLog(1)
	if len(entries) != 1 || entries[0].Action != activity.ActionLogin || entries[0].Actor != "client" {
		t.Fatalf("expected login entry, got %+v", entries)
	}
	if entries[0].Origin != "10.0.0.7" {
		t.Fatalf("expected origin 10.0.0.7, got %s", entries[0].Origin)
	}
}

func TestLoginChallenge(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	_, err := h.mgr.Login(ctx, Credentials{Username: "client", Secret: "Client123!", ChallengeResponse: "5"})
	if !errors.Is(err, ErrChallenge) {
		t.Fatalf("expected ErrChallenge without issued challenge, got %v", err)
	}

	c, err := h.mgr.IssueChallenge()
	if err != nil {
		t.Fatal(err)
	}
	_, err = h.mgr.Login(ctx, Credentials{Username: "client", Secret: "Client123!", ChallengeResponse: c.Answer + "0"})
	if !errors.Is(err, ErrChallenge) {
		t.Fatalf("expected ErrChallenge on mismatch, got %v", err)
	}
	if h.mgr.FailedAttempts() != 0 {
		t.Fatal("challenge failure must not count as a failed credential attempt")
	}

	// the challenge survives a mismatch
	if _, err := h.mgr.Login(ctx, Credentials{Username: "client", Secret: "Client123!", ChallengeResponse: c.Answer}); err != nil {
		t.Fatalf("expected retry with correct answer to succeed: %v", err)
	}
	if err := h.mgr.Logout(ctx); err != nil {
		t.Fatal(err)
	}

	c, _ = h.mgr.IssueChallenge()
	h.clock.Advance(6 * time.Minute)
	_, err = h.mgr.Login(ctx, Credentials{Username: "client", Secret: "Client123!", ChallengeResponse: c.Answer})
	if !errors.Is(err, ErrChallenge) {
		t.Fatalf("expected ErrChallenge for expired challenge, got %v", err)
	}
	if h.mgr.IsAuthenticated() {
		t.Fatal("no session may be created on challenge failure")
	}
}

func TestLoginChallengeDisabled(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.ChallengeRequired = false })
	_, err := h.mgr.Login(context.Background(), Credentials{Username: "admin", Secret: "AdminSecure123!"})
	if err != nil {
		t.Fatalf("expected login without challenge: %v", err)
	}
}

func TestLoginInvalidCredentials(t *testing.T) {
	h := newHarness(t, nil)

	for _, tc := range []struct{ user, pass string }{
		{"client", "wrong"},
		{"client", "client123!"},
		{"nobody", "Client123!"},
	} {
		if _, err := h.login(t, tc.user, tc.pass); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("%s/%s: expected ErrInvalidCredentials, got %v", tc.user, tc.pass, err)
		}
	}
	if h.mgr.FailedAttempts() != 3 {
		t.Fatalf("expected 3 failed attempts, got %d", h.mgr.FailedAttempts())
	}
	if h.mgr.IsAuthenticated() {
		t.Fatal("expected no session")
	}
	if _, err := h.kv.Get(context.Background(), StorageKey); !errors.Is(err, kv.ErrNotFound) {
		t.Fatalf("expected nothing persisted, got %v", err)
	}
	if got := h.mgr.ActivityLog(0)[0].Action; got != activity.ActionLoginFailed {
		t.Fatalf("expected login_failed entry, got %s", got)
	}
}

func TestLockout(t *testing.T) {
	h := newHarness(t, nil)

	for i := 0; i < 3; i++ {
		if _, err := h.login(t, "client", "nope"); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("attempt %d: %v", i+1, err)
		}
	}
	if h.mgr.FailedAttempts() != 3 {
		t.Fatalf("expected 3, got %d", h.mgr.FailedAttempts())
	}
	for i := 0; i < 2; i++ {
		h.login(t, "client", "nope")
	}
	if h.mgr.FailedAttempts() != 5 {
		t.Fatalf("expected 5, got %d", h.mgr.FailedAttempts())
	}

	_, err := h.login(t, "client", "Client123!")
	if !errors.Is(err, ErrLockedOut) {
		t.Fatalf("expected ErrLockedOut with correct credentials, got %v", err)
	}
	if h.mgr.FailedAttempts() != 5 {
		t.Fatalf("lockout check must not change the counter, got %d", h.mgr.FailedAttempts())
	}

	// the counter is global: another identity is locked out too
	if _, err := h.login(t, "admin", "AdminSecure123!"); !errors.Is(err, ErrLockedOut) {
		t.Fatalf("expected global lockout, got %v", err)
	}
}

func TestSuccessfulLoginResetsCounter(t *testing.T) {
	h := newHarness(t, nil)
	for i := 0; i < 4; i++ {
		h.login(t, "client", "nope")
	}
	if h.mgr.FailedAttempts() != 4 {
		t.Fatalf("expected 4, got %d", h.mgr.FailedAttempts())
	}
	h.mustLogin(t, "client", "Client123!")
	if h.mgr.FailedAttempts() != 0 {
		t.Fatalf("expected reset to 0, got %d", h.mgr.FailedAttempts())
	}
}

func TestSecondLoginReplacesSession(t *testing.T) {
	h := newHarness(t, nil)
	first := h.mustLogin(t, "client", "Client123!")
	second := h.mustLogin(t, "admin", "AdminSecure123!")

	if first.ID == second.ID {
		t.Fatal("expected a fresh session id")
	}
	if cur := h.mgr.Current(); cur == nil || cur.Username != "admin" {
		t.Fatalf("expected admin session, got %+v", cur)
	}
	entries := h.mgr.ActivityLog(3)
	if entries[1].Action != activity.ActionLogout || entries[1].Actor != "client" {
		t.Fatalf("expected logout of replaced session, got %+v", entries[1])
	}
}

func TestFailedLoginKeepsCurrentSession(t *testing.T) {
	h := newHarness(t, nil)
	h.mustLogin(t, "client", "Client123!")
	if _, err := h.login(t, "admin", "bad"); err == nil {
		t.Fatal("expected failure")
	}
	if cur := h.mgr.Current(); cur == nil || cur.Username != "client" {
		t.Fatalf("expected client session to survive, got %+v", cur)
	}
	if h.mgr.State() != StateActive {
		t.Fatalf("expected active, got %s", h.mgr.State())
	}
}

func TestRoleAndPermissionQueries(t *testing.T) {
	h := newHarness(t, nil)

	if h.mgr.HasRole(identity.RoleClient) || h.mgr.HasPermission(identity.PermViewUsers) {
		t.Fatal("anonymous must hold no role or permission")
	}

	tests := []struct {
		user, pass string
		roles      map[identity.Role]bool
		perms      map[string]bool
	}{
		{
			user: "client", pass: "Client123!",
			roles: map[identity.Role]bool{identity.RoleClient: true, identity.RoleAdmin: false},
			perms: map[string]bool{identity.PermViewUsers: false, identity.PermResetPasswords: false},
		},
		{
			user: "pult", pass: "PultOperator123!",
			roles: map[identity.Role]bool{identity.RoleOperator: true, identity.RoleClient: false},
			perms: map[string]bool{identity.PermEditLoans: true, identity.PermResetPasswords: false},
		},
		{
			user: "admin", pass: "AdminSecure123!",
			roles: map[identity.Role]bool{identity.RoleAdmin: true, identity.RoleSuperAdmin: false, identity.RoleClient: false},
			perms: map[string]bool{identity.PermResetPasswords: true, "anything": true},
		},
		{
			user: "Lorde_Macalister", pass: "Shunia03SMacalister",
			roles: map[identity.Role]bool{identity.RoleClient: true, identity.RoleOperator: true, identity.RoleAdmin: true, "made-up": true},
			perms: map[string]bool{identity.PermResetPasswords: true, "anything": true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.user, func(t *testing.T) {
			h.mustLogin(t, tt.user, tt.pass)
			for role, want := range tt.roles {
				if got := h.mgr.HasRole(role); got != want {
					t.Errorf("HasRole(%s) = %v, want %v", role, got, want)
				}
			}
			for perm, want := range tt.perms {
				if got := h.mgr.HasPermission(perm); got != want {
					t.Errorf("HasPermission(%s) = %v, want %v", perm, got, want)
				}
			}
		})
	}
}

func TestCheckIdle(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.mustLogin(t, "client", "Client123!")

	h.clock.Advance(DefaultTimeout - time.Second)
	if h.mgr.CheckIdle(ctx) {
		t.Fatal("session ended before timeout")
	}
	if h.mgr.State() != StateActive {
		t.Fatalf("expected active, got %s", h.mgr.State())
	}

	h.clock.Advance(time.Second)
	if !h.mgr.CheckIdle(ctx) {
		t.Fatal("expected session to expire at timeout")
	}
	if h.mgr.State() != StateAnonymous || h.mgr.IsAuthenticated() {
		t.Fatalf("expected anonymous, got %s", h.mgr.State())
	}
	if _, err := h.kv.Get(ctx, StorageKey); !errors.Is(err, kv.ErrNotFound) {
		t.Fatalf("expected persisted record removed, got %v", err)
	}
	if len(h.notices) != 1 || h.notices[0].Kind != NoticeSessionExpired || h.notices[0].Username != "client" {
		t.Fatalf("expected one expiry notice, got %+v", h.notices)
	}
	if got := h.mgr.ActivityLog(1)[0].Action; got != activity.ActionSessionExpired {
		t.Fatalf("expected session_expired entry, got %s", got)
	}
	if h.mgr.CheckIdle(ctx) {
		t.Fatal("check without session must be a no-op")
	}
}

func TestNotifierSeesExpiredState(t *testing.T) {
	var h *harness
	var seen State
	h = newHarness(t, func(o *Options) {
		o.Notifier = NotifierFunc(func(context.Context, Notice) {
			// lock is held; read the field directly
			seen = h.mgr.state
		})
	})
	h.mustLogin(t, "client", "Client123!")
	h.clock.Advance(time.Hour)
	h.mgr.CheckIdle(context.Background())
	if seen != StateExpired {
		t.Fatalf("expected notifier to run in Expired state, got %s", seen)
	}
}

func TestTouchKeepsSessionAlive(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	if err := h.mgr.Touch(ActivityClick); !errors.Is(err, ErrNotAuthenticated) {
		t.Fatalf("expected ErrNotAuthenticated, got %v", err)
	}

	h.mustLogin(t, "client", "Client123!")
	for _, kind := range []ActivityKind{ActivityPointer, ActivityKey, ActivityClick} {
		h.clock.Advance(20 * time.Minute)
		if err := h.mgr.Touch(kind); err != nil {
			t.Fatalf("touch %s: %v", kind, err)
		}
		if h.mgr.CheckIdle(ctx) {
			t.Fatalf("session expired despite %s activity", kind)
		}
	}
	if cur := h.mgr.Current(); !cur.LastActivity.Equal(h.clock.Now()) {
		t.Fatalf("last activity not refreshed: %s", cur.LastActivity)
	}

	if err := h.mgr.Touch("scroll"); !errors.Is(err, ErrUnknownActivity) {
		t.Fatalf("expected ErrUnknownActivity, got %v", err)
	}
}

func TestRestore(t *testing.T) {
	ctx := context.Background()

	t.Run("fresh record is adopted", func(t *testing.T) {
		h := newHarness(t, nil)
		orig := h.mustLogin(t, "pult", "PultOperator123!")

		h.clock.Advance(10 * time.Minute)
		restarted := h.newManager(nil)
		ok, err := restarted.Restore(ctx)
		if err != nil || !ok {
			t.Fatalf("expected restore, got ok=%v err=%v", ok, err)
		}
		cur := restarted.Current()
		if cur.Username != "pult" || cur.Role != identity.RoleOperator || cur.ID != orig.ID {
			t.Fatalf("restored record mismatch: %+v", cur)
		}
		if !cur.LastActivity.Equal(h.clock.Now()) {
			t.Fatalf("expected last activity reset to now, got %s", cur.LastActivity)
		}
		if restarted.State() != StateActive {
			t.Fatalf("expected active, got %s", restarted.State())
		}
	})

	t.Run("stale record is removed", func(t *testing.T) {
		h := newHarness(t, nil)
		h.mustLogin(t, "pult", "PultOperator123!")

		h.clock.Advance(DefaultTimeout)
		restarted := h.newManager(nil)
		ok, err := restarted.Restore(ctx)
		if err != nil || ok {
			t.Fatalf("expected no restore, got ok=%v err=%v", ok, err)
		}
		if restarted.State() != StateAnonymous {
			t.Fatalf("expected anonymous, got %s", restarted.State())
		}
		if _, err := h.kv.Get(ctx, StorageKey); !errors.Is(err, kv.ErrNotFound) {
			t.Fatalf("expected stale record removed, got %v", err)
		}
	})

	t.Run("malformed record is discarded", func(t *testing.T) {
		for _, blob := range []string{`{not json`, `{"timestamp": 1}`, `[]`} {
			h := newHarness(t, nil)
			if err := h.kv.Set(ctx, StorageKey, []byte(blob)); err != nil {
				t.Fatal(err)
			}
			ok, err := h.mgr.Restore(ctx)
			if err != nil || ok {
				t.Fatalf("%s: expected silent discard, got ok=%v err=%v", blob, ok, err)
			}
			if _, err := h.kv.Get(ctx, StorageKey); !errors.Is(err, kv.ErrNotFound) {
				t.Fatalf("%s: expected record removed", blob)
			}
		}
	})

	t.Run("nothing persisted", func(t *testing.T) {
		h := newHarness(t, nil)
		ok, err := h.mgr.Restore(ctx)
		if err != nil || ok {
			t.Fatalf("expected no restore, got ok=%v err=%v", ok, err)
		}
	})
}

func TestLogout(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	if err := h.mgr.Logout(ctx); err != nil {
		t.Fatal(err)
	}
	if h.activity.Count() != 0 {
		t.Fatal("logout without a session must not log activity")
	}

	h.mustLogin(t, "client", "Client123!")
	h.mgr.IssueChallenge()
	if err := h.mgr.Logout(ctx); err != nil {
		t.Fatal(err)
	}
	if h.mgr.IsAuthenticated() || h.mgr.State() != StateAnonymous {
		t.Fatal("expected anonymous after logout")
	}
	if _, err := h.kv.Get(ctx, StorageKey); !errors.Is(err, kv.ErrNotFound) {
		t.Fatalf("expected persisted record removed, got %v", err)
	}
	if h.mgr.challenges.Pending() {
		t.Fatal("expected outstanding challenge cleared")
	}
	if got := h.mgr.ActivityLog(1)[0]; got.Action != activity.ActionLogout || got.Actor != "client" {
		t.Fatalf("expected logout entry, got %+v", got)
	}
}

func TestChangeSecret(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	if err := h.mgr.ChangeSecret(ctx, "Client123!", "NewClient123!"); !errors.Is(err, ErrNotAuthenticated) {
		t.Fatalf("expected ErrNotAuthenticated, got %v", err)
	}

	h.mustLogin(t, "client", "Client123!")
	if err := h.mgr.ChangeSecret(ctx, "wrong", "NewClient123!"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}

	weak := map[string]string{
		"too short":    "Cl1!ab",
		"no uppercase": "client123!",
		"no lowercase": "CLIENT123!",
		"no digit":     "ClientAbc!",
		"no symbol":    "Client1234",
	}
	for name, pw := range weak {
		if err := h.mgr.ChangeSecret(ctx, "Client123!", pw); !errors.Is(err, ErrWeakSecret) {
			t.Errorf("%s (%q): expected ErrWeakSecret, got %v", name, pw, err)
		}
	}

	if err := h.mgr.ChangeSecret(ctx, "Client123!", "NewClient123!"); err != nil {
		t.Fatalf("expected compliant password accepted: %v", err)
	}
	if got := h.mgr.ActivityLog(1)[0].Action; got != activity.ActionPasswordChange {
		t.Fatalf("expected password_change entry, got %s", got)
	}

	h.mgr.Logout(ctx)
	if _, err := h.login(t, "client", "Client123!"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("old password must stop working, got %v", err)
	}
	h.mustLogin(t, "client", "NewClient123!")
}

func TestResetSecret(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	if _, err := h.mgr.ResetSecret(ctx, "client"); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("anonymous: expected ErrPermissionDenied, got %v", err)
	}

	// reset_passwords is only reachable through "all" or superadmin.
	for _, u := range []struct{ user, pass string }{{"client", "Client123!"}, {"pult", "PultOperator123!"}} {
		h.mustLogin(t, u.user, u.pass)
		if _, err := h.mgr.ResetSecret(ctx, "client"); !errors.Is(err, ErrPermissionDenied) {
			t.Fatalf("%s: expected ErrPermissionDenied, got %v", u.user, err)
		}
	}

	h.mustLogin(t, "admin", "AdminSecure123!")
	if _, err := h.mgr.ResetSecret(ctx, "ghost"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	temp, err := h.mgr.ResetSecret(ctx, "client")
	if err != nil {
		t.Fatal(err)
	}
	if len(temp) != 12 {
		t.Fatalf("expected 12-char temporary password, got %q", temp)
	}
	entry := h.mgr.ActivityLog(1)[0]
	if entry.Action != activity.ActionPasswordReset || entry.Actor != "admin" || !strings.Contains(entry.Detail, "client") {
		t.Fatalf("unexpected reset entry %+v", entry)
	}
	if strings.Contains(entry.Detail, temp) {
		t.Fatal("temporary password leaked into activity log")
	}

	h.mustLogin(t, "client", temp)
}

func TestConcurrentAccess(t *testing.T) {
	h := newHarness(t, nil)
	h.mustLogin(t, "client", "Client123!")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_ = h.mgr.Touch(ActivityPointer)
				_ = h.mgr.HasRole(identity.RoleClient)
				_ = h.mgr.Current()
				h.mgr.CheckIdle(context.Background())
			}
		}()
	}
	wg.Wait()
	if !h.mgr.IsAuthenticated() {
		t.Fatal("session must survive concurrent activity")
	}
}
