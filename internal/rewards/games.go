package rewards

import (
	"math/rand"

	"github.com/shopspring/decimal"
)

// Game resolves one gambling round. Play receives the shared seeded source
// (the engine serializes access) and must return a delta no smaller than
// -stake so the pre-checked balance can always absorb the loss.
type Game interface {
	Kind() string
	Play(rng *rand.Rand, stake decimal.Decimal) Outcome
}

// Outcome is the net result of a round. Payload lands in the journal entry
// for audit and presentation.
type Outcome struct {
	Delta   decimal.Decimal
	Summary string
	Payload map[string]any
}

var blackjackPayout = decimal.RequireFromString("1.5")

type card struct {
	rank string
	suit string
}

func (c card) String() string { return c.rank + c.suit }

var (
	cardRanks = []string{"A", "2", "3", "4", "5", "6", "7", "8", "9", "10", "J", "Q", "K"}
	cardSuits = []string{"♠", "♥", "♦", "♣"}
)

func newDeck() []card {
	deck := make([]card, 0, len(cardRanks)*len(cardSuits))
	for _, suit := range cardSuits {
		for _, rank := range cardRanks {
			deck = append(deck, card{rank: rank, suit: suit})
		}
	}
	return deck
}

func handTotal(hand []card) int {
	total, aces := 0, 0
	for _, c := range hand {
		switch c.rank {
		case "A":
			total += 11
			aces++
		case "K", "Q", "J", "10":
			total += 10
		default:
			total += int(c.rank[0] - '0')
		}
	}
	for total > 21 && aces > 0 {
		total -= 10
		aces--
	}
	return total
}

func renderHand(hand []card) []string {
	out := make([]string, len(hand))
	for i, c := range hand {
		out[i] = c.String()
	}
	return out
}

// Blackjack plays one auto-resolved hand against the dealer: both sides draw
// to 17. A natural 21 pays 1.5x, a regular win 1x, a loss costs the stake
// and a push returns it.
type Blackjack struct{}

func (Blackjack) Kind() string { return "blackjack" }

func (Blackjack) Play(rng *rand.Rand, stake decimal.Decimal) Outcome {
	deck := newDeck()
	rng.Shuffle(len(deck), func(i, j int) { deck[i], deck[j] = deck[j], deck[i] })
	draw := func() card {
		c := deck[0]
		deck = deck[1:]
		return c
	}

	player := []card{draw(), draw()}
	dealer := []card{draw(), draw()}
	for handTotal(player) < 17 {
		player = append(player, draw())
	}
	for handTotal(dealer) < 17 {
		dealer = append(dealer, draw())
	}
	playerTotal := handTotal(player)
	dealerTotal := handTotal(dealer)
	playerNatural := len(player) == 2 && playerTotal == 21
	dealerNatural := len(dealer) == 2 && dealerTotal == 21

	var delta decimal.Decimal
	var result string
	switch {
	case playerNatural && !dealerNatural:
		delta = stake.Mul(blackjackPayout)
		result = "blackjack"
	case playerTotal > 21:
		delta = stake.Neg()
		result = "bust"
	case dealerTotal > 21:
		delta = stake
		result = "dealer_bust"
	case playerTotal > dealerTotal:
		delta = stake
		result = "win"
	case playerTotal < dealerTotal:
		delta = stake.Neg()
		result = "lose"
	default:
		delta = decimal.Zero
		result = "push"
	}
	return Outcome{
		Delta:   delta,
		Summary: result,
		Payload: map[string]any{
			"player":       renderHand(player),
			"dealer":       renderHand(dealer),
			"player_total": playerTotal,
			"dealer_total": dealerTotal,
			"result":       result,
		},
	}
}

// Harvest is the forage gamble: getting caught forfeits the stake, otherwise
// the haul pays out a random multiple of it.
type Harvest struct {
	CatchChance float64
	PayoutMin   float64
	PayoutMax   float64
}

func (Harvest) Kind() string { return "harvest" }

func (h Harvest) Play(rng *rand.Rand, stake decimal.Decimal) Outcome {
	if rng.Float64() < h.CatchChance {
		return Outcome{
			Delta:   stake.Neg(),
			Summary: "caught",
			Payload: map[string]any{"caught": true},
		}
	}
	factor := h.PayoutMin + rng.Float64()*(h.PayoutMax-h.PayoutMin)
	haul := stake.Mul(decimal.NewFromFloat(factor)).Round(2)
	return Outcome{
		Delta:   haul,
		Summary: "haul",
		Payload: map[string]any{
			"caught": false,
			"haul":   haul.String(),
		},
	}
}
