package payments

import "github.com/taskora/marketplace/internal/market"

// Prices are authoritative server-side, in paise. Order creation never
// trusts an amount from the client.
const (
	priceRankFirst  int64 = 199900
	priceRankSecond int64 = 99900
	priceRankThird  int64 = 69900
	priceLeadPlan   int64 = 49900
	priceBadge      int64 = 29900
)

var rankPrices = map[market.Rank]int64{
	market.RankFirst:  priceRankFirst,
	market.RankSecond: priceRankSecond,
	market.RankThird:  priceRankThird,
}

// PriceFor returns the charge for a purchase. Rank is only consulted
// for position purchases.
func PriceFor(purpose market.Purpose, rank market.Rank) (int64, error) {
	switch purpose {
	case market.PurposeLeadPlan:
		return priceLeadPlan, nil
	case market.PurposeBadge:
		return priceBadge, nil
	case market.PurposePosition:
		p, ok := rankPrices[rank]
		if !ok {
			return 0, market.ErrInvalidRank
		}
		return p, nil
	}
	return 0, market.ErrInvalidPurpose
}
