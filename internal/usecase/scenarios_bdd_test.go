package usecase

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/eliteGoblin/focusd/sec_comp/internal/domain"
	"github.com/eliteGoblin/focusd/sec_comp/internal/policy"
)

var _ = Describe("Component Manager", func() {
	var h *harness

	BeforeEach(func() {
		h = newHarness()
	})

	Describe("process death", func() {
		var (
			a, b domain.CallerInfo
			idB  int32
		)

		BeforeEach(func() {
			a, b = caller(30), caller(40)
			for i := 0; i < 2; i++ {
				id, err := h.manager.Register(a, button(domain.PasteComponent), nil)
				Expect(err).NotTo(HaveOccurred())
				_, err = h.click(a, id, domain.PasteComponent)
				Expect(err).NotTo(HaveOccurred())
			}
			var err error
			idB, err = h.manager.Register(b, button(domain.PasteComponent), nil)
			Expect(err).NotTo(HaveOccurred())
		})

		Context("when the owner of two components dies", func() {
			It("should clear only that process and revoke its grants", func() {
				h.manager.NotifyProcessDied(a.PID, false)

				snap := h.manager.Snapshot()
				Expect(snap).To(HaveLen(1))
				Expect(snap[0].PID).To(Equal(b.PID))
				Expect(snap[0].Entities).To(HaveLen(1))
				Expect(snap[0].Entities[0].ScID).To(Equal(idB))
				Expect(h.kit.VerifyPermission(a.TokenID, policy.PastePermission)).To(BeFalse())
			})

			It("should evaluate idle exit once every component is gone", func() {
				h.manager.NotifyProcessDied(a.PID, false)
				h.manager.NotifyProcessDied(b.PID, false)

				h.scheduler.Advance(DefaultManagerConfig().IdleExitDelay)
				Expect(h.exited).To(Equal(1))
			})
		})

		Context("when the process had been blocklisted", func() {
			It("should lift the block for a later process", func() {
				h.malicious.Add(a.PID, a.UID)
				h.manager.NotifyProcessDied(a.PID, false)

				_, err := h.manager.Register(a, button(domain.PasteComponent), nil)
				Expect(err).NotTo(HaveOccurred())
			})
		})
	})

	Describe("malicious short-circuit", func() {
		Context("after a tamper hook failure", func() {
			It("should reject a well-formed registration without validating it", func() {
				p := caller(50)
				h.enhance.componentErr = errInjected
				_, err := h.manager.Register(p, button(domain.PasteComponent), nil)
				Expect(err).To(MatchError(domain.ErrChallengeCheckFailed))

				h.enhance.componentErr = nil
				h.display.err = errInjected
				before := len(h.audit.Names())

				_, err = h.manager.Register(p, button(domain.PasteComponent), nil)
				Expect(err).To(MatchError(domain.ErrInMaliciousList))
				Expect(h.audit.Names()[before:]).To(Equal([]string{domain.EventInMaliciousList}))
			})
		})
	})

	Describe("save debouncing", func() {
		var c domain.CallerInfo
		var id int32

		BeforeEach(func() {
			c = caller(60)
			h.consent.Record(c.TokenID, policy.SaveFirstUseMask)
			var err error
			id, err = h.manager.Register(c, button(domain.SaveComponent), nil)
			Expect(err).NotTo(HaveOccurred())
		})

		It("should keep the grant until the last click expires", func() {
			_, err := h.click(c, id, domain.SaveComponent)
			Expect(err).NotTo(HaveOccurred())
			h.scheduler.Advance(10 * time.Second)
			h.now = h.now.Add(10 * time.Second)
			_, err = h.click(c, id, domain.SaveComponent)
			Expect(err).NotTo(HaveOccurred())

			h.scheduler.Advance(50 * time.Second)
			Expect(h.manager.VerifySavePermission(c.TokenID)).To(BeTrue())

			h.scheduler.Advance(10 * time.Second)
			Expect(h.manager.VerifySavePermission(c.TokenID)).To(BeFalse())
		})
	})

	Describe("click freshness", func() {
		var c domain.CallerInfo
		var id int32

		BeforeEach(func() {
			c = caller(70)
			var err error
			id, err = h.manager.Register(c, button(domain.PasteComponent), nil)
			Expect(err).NotTo(HaveOccurred())
		})

		DescribeTable("point click timestamps",
			func(age time.Duration, granted bool) {
				click := h.tap()
				click.Timestamp = h.now.Add(-age)
				res, err := h.manager.ReportClick(c, domain.ClickRequest{
					ScID:       id,
					Descriptor: button(domain.PasteComponent),
					Click:      click,
				})
				if granted {
					Expect(err).NotTo(HaveOccurred())
					Expect(res.State).To(Equal(domain.ClickGranted))
				} else {
					Expect(err).To(MatchError(domain.ErrClickEventInvalid))
					Expect(res.State).To(Equal(domain.ClickRejectedClickInvalid))
				}
			},
			Entry("999ms old", 999*time.Millisecond, true),
			Entry("1001ms old", 1001*time.Millisecond, false),
			Entry("1ms in the future", -time.Millisecond, false),
		)
	})
})
