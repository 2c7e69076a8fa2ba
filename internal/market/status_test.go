package market

import "testing"

func TestCanTransitionOrder(t *testing.T) {
	cases := []struct {
		from, to OrderStatus
		want     bool
	}{
		{OrderCreated, OrderReserved, true},
		{OrderCreated, OrderVerified, true},
		{OrderCreated, OrderFailed, true},
		{OrderReserved, OrderVerified, true},
		{OrderReserved, OrderExpired, true},
		{OrderVerified, OrderFailed, false},
		{OrderVerified, OrderCreated, false},
		{OrderFailed, OrderVerified, false},
		{OrderExpired, OrderReserved, false},
		{OrderReserved, OrderCreated, false},
	}
	for _, c := range cases {
		if got := CanTransitionOrder(c.from, c.to); got != c.want {
			t.Errorf("CanTransitionOrder(%s, %s) = %v, want %v", c.from, c.to, got, c.want)
		}
	}
}

func TestOrderStatusTerminal(t *testing.T) {
	for s, terminal := range map[OrderStatus]bool{
		OrderCreated:  false,
		OrderReserved: false,
		OrderVerified: true,
		OrderFailed:   true,
		OrderExpired:  true,
	} {
		if got := s.Terminal(); got != terminal {
			t.Errorf("%s.Terminal() = %v, want %v", s, got, terminal)
		}
	}
}

func TestCanTransitionLead(t *testing.T) {
	terminals := []LeadStatus{LeadAccepted, LeadExpired, LeadWithdrawn}
	for _, to := range terminals {
		if !CanTransitionLead(LeadOpen, to) {
			t.Errorf("LeadOpen -> %s should be allowed", to)
		}
	}
	for _, from := range terminals {
		for _, to := range []LeadStatus{LeadOpen, LeadAccepted, LeadExpired, LeadWithdrawn} {
			if CanTransitionLead(from, to) {
				t.Errorf("%s -> %s should be rejected", from, to)
			}
		}
	}
}
