package moderation

// Rating is a project's content rating.
type Rating string

const (
	RatingGeneral  Rating = "general"
	RatingMature   Rating = "mature"
	RatingExplicit Rating = "explicit"
)

func (r Rating) Valid() bool {
	switch r {
	case RatingGeneral, RatingMature, RatingExplicit:
		return true
	}
	return false
}

// Action is the moderation verdict.
type Action string

const (
	ActionAllow Action = "allow"
	ActionFlag  Action = "flag"
	ActionMask  Action = "mask"
	ActionBlock Action = "block"
)

// Reason tags returned with non-allow verdicts.
const (
	ReasonAgeRestriction = "age_restriction"
	ReasonKeywordMatch   = "keyword_match"
	ReasonInvalidRating  = "invalid_content_rating"
	ReasonInvalidAge     = "invalid_user_age"
)

// Request is one piece of translated content to classify.
type Request struct {
	OriginalText   string `json:"originalText"`
	TranslatedText string `json:"translatedText"`
	ContentRating  Rating `json:"contentRating"`
	UserAge        *int   `json:"userAge,omitempty"`
}

type Result struct {
	Action Action `json:"action"`
	Reason string `json:"reason,omitempty"`
}
