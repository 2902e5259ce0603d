package csg

import "time"

// QuoteParams are the query parameters for a med-supp quote request. Zip5
// and County identify the location; exactly one of them is usually set.
type QuoteParams struct {
	Zip5           string
	County         string
	Age            int
	Gender         string
	Tobacco        int
	Plan           string
	EffectiveDate  string // YYYY-MM-DD
	NAIC           string
	ApplyDiscounts int
	ApplyFees      int
	Offset         int
}

// rawQuote mirrors the wire shape of one quote in a med_supp/quotes.json
// response. Monetary values are integer cents.
type rawQuote struct {
	Age              int           `json:"age"`
	AgeIncreases     []float64     `json:"age_increases"`
	Gender           string        `json:"gender"`
	Tobacco          int           `json:"tobacco"`
	Plan             string        `json:"plan"`
	Select           bool          `json:"select"`
	RatingClass      string        `json:"rating_class"`
	DiscountCategory string        `json:"discount_category"`
	EffectiveDate    string        `json:"effective_date"`
	Rate             rawRate       `json:"rate"`
	Discounts        []rawDiscount `json:"discounts"`
	CompanyBase      rawCompany    `json:"company_base"`
	LocationBase     rawLocation   `json:"location_base"`
}

type rawRate struct {
	Month int64 `json:"month"`
}

type rawDiscount struct {
	Name  string  `json:"name"`
	Type  string  `json:"type"`
	Value float64 `json:"value"`
}

type rawCompany struct {
	NAIC string `json:"naic"`
	Name string `json:"name"`
}

type rawLocation struct {
	State  string   `json:"state"`
	Zip5   []string `json:"zip5"`
	County []string `json:"county"`
}

// Quote is one normalized med-supp quote. Rate is monthly dollars; the wire
// format's cents have already been divided out.
type Quote struct {
	NAIC             string
	CompanyName      string
	State            string
	Age              int
	Gender           string
	Tobacco          int
	Plan             string
	Rate             float64
	DiscountPct      float64 // first discount's fractional value, 0 if none
	DiscountCategory string
	RatingClass      string
	Select           bool
	AgeIncreases     []float64
	EffectiveDate    time.Time
	Zips             []string // region membership when the carrier maps by ZIP
	Counties         []string // region membership when the carrier maps by county
}

// Company is one carrier from the companies endpoint.
type Company struct {
	NAIC string `json:"naic"`
	Name string `json:"name"`
}
