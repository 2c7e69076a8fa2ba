package market

// OrderStatus is the payment order lifecycle state.
type OrderStatus string

const (
	OrderCreated  OrderStatus = "CREATED"
	OrderReserved OrderStatus = "RESERVED"
	OrderVerified OrderStatus = "VERIFIED"
	OrderFailed   OrderStatus = "FAILED"
	OrderExpired  OrderStatus = "EXPIRED"
)

// Lead/badge purchases skip the reserve step, so CREATED may go
// straight to a terminal state.
var validNextOrder = map[OrderStatus]map[OrderStatus]bool{
	OrderCreated:  {OrderReserved: true, OrderVerified: true, OrderFailed: true, OrderExpired: true},
	OrderReserved: {OrderVerified: true, OrderFailed: true, OrderExpired: true},
	OrderVerified: {},
	OrderFailed:   {},
	OrderExpired:  {},
}

func CanTransitionOrder(from, to OrderStatus) bool {
	return validNextOrder[from][to]
}

func (s OrderStatus) Terminal() bool {
	return len(validNextOrder[s]) == 0
}

var validNextLead = map[LeadStatus]map[LeadStatus]bool{
	LeadOpen:      {LeadAccepted: true, LeadExpired: true, LeadWithdrawn: true},
	LeadAccepted:  {},
	LeadExpired:   {},
	LeadWithdrawn: {},
}

func CanTransitionLead(from, to LeadStatus) bool {
	return validNextLead[from][to]
}
