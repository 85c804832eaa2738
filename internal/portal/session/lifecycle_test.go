package session

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/macalisterfamily11-pixel/bnr-bank/internal/portal/identity"
)

var _ = Describe("Session Manager", func() {
	var (
		h      *harness
		ctx    context.Context
		cancel context.CancelFunc
	)

	BeforeEach(func() {
		h = newHarness(GinkgoTB(), func(o *Options) {
			o.Timeout = time.Minute
			o.IdleCheckInterval = time.Second
		})
		ctx, cancel = context.WithCancel(context.Background())
		DeferCleanup(cancel)
	})

	Context("with the event loop running", func() {
		var done chan error

		BeforeEach(func() {
			done = make(chan error, 1)
			go func() { done <- h.mgr.Run(ctx) }()
		})

		AfterEach(func() {
			cancel()
			Eventually(done).Should(Receive(BeNil()))
		})

		It("expires an idle session on a scheduled check", func() {
			h.mustLogin(GinkgoTB(), "client", "Client123!")
			Expect(h.mgr.State()).To(Equal(StateActive))

			h.clock.Advance(2 * time.Minute)
			Eventually(h.mgr.IsAuthenticated, 5*time.Second, 100*time.Millisecond).Should(BeFalse())
			Expect(h.mgr.State()).To(Equal(StateAnonymous))
			Expect(h.notices).To(HaveLen(1))
		})

		It("keeps the session while activity events arrive", func() {
			h.mustLogin(GinkgoTB(), "client", "Client123!")

			h.clock.Advance(50 * time.Second)
			Expect(h.mgr.Dispatch(ActivityEvent{Kind: ActivityKey})).To(Succeed())
			Eventually(func() time.Time {
				return h.mgr.Current().LastActivity
			}).Should(Equal(h.clock.Now()))

			h.clock.Advance(50 * time.Second)
			Consistently(h.mgr.IsAuthenticated, 1500*time.Millisecond, 100*time.Millisecond).Should(BeTrue())
		})

		It("logs out on a dispatched logout event", func() {
			h.mustLogin(GinkgoTB(), "admin", "AdminSecure123!")
			Expect(h.mgr.Dispatch(LogoutEvent{})).To(Succeed())
			Eventually(h.mgr.IsAuthenticated).Should(BeFalse())
		})
	})

	Context("walking the state machine", func() {
		It("goes Anonymous -> Active -> Anonymous via login and logout", func() {
			Expect(h.mgr.State()).To(Equal(StateAnonymous))

			rec := h.mustLogin(GinkgoTB(), "Lorde_Macalister", "Shunia03SMacalister")
			Expect(rec.Role).To(Equal(identity.RoleSuperAdmin))
			Expect(h.mgr.State()).To(Equal(StateActive))
			Expect(h.mgr.HasRole("anything")).To(BeTrue())
			Expect(h.mgr.HasPermission("anything")).To(BeTrue())

			Expect(h.mgr.Logout(ctx)).To(Succeed())
			Expect(h.mgr.State()).To(Equal(StateAnonymous))
			Expect(h.mgr.HasRole(identity.RoleClient)).To(BeFalse())
		})

		It("survives a restart within the timeout", func() {
			h.mustLogin(GinkgoTB(), "client", "Client123!")
			h.clock.Advance(30 * time.Second)

			restarted := h.newManager(func(o *Options) { o.Timeout = time.Minute })
			Expect(restarted.Restore(ctx)).To(BeTrue())
			Expect(restarted.Current().Username).To(Equal("client"))
		})

		It("stays locked out after reaching the attempt limit", func() {
			for range DefaultMaxLoginAttempts {
				_, err := h.login(GinkgoTB(), "client", "bad")
				Expect(err).To(MatchError(ErrInvalidCredentials))
			}
			_, err := h.login(GinkgoTB(), "client", "Client123!")
			Expect(err).To(MatchError(ErrLockedOut))
			Expect(h.mgr.State()).To(Equal(StateAnonymous))
		})
	})
})
