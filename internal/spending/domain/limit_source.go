package domain

// LimitSource says where a card's limits come from. It is a closed union:
// ProfileSource and CustomSource are the only implementations, so a card is
// always in exactly one mode.
type LimitSource interface {
	isLimitSource()
}

// ProfileSource binds the card to a shared limit profile.
type ProfileSource struct {
	ProfileID ProfileID
}

// CustomSource gives the card its own limits.
type CustomSource struct {
	Limits LimitSet
}

func (ProfileSource) isLimitSource() {}
func (CustomSource) isLimitSource()  {}
