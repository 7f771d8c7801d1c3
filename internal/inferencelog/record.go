// Package inferencelog assembles the record describing one classification.
package inferencelog

// Record describes one inference: which image, which model, what it
// predicted and whether a user confirmed or corrected the prediction.
type Record struct {
	Image     string  `json:"image"`
	ModelUsed string  `json:"model_used"`
	PredClass string  `json:"pred_class"`
	PredConf  float64 `json:"pred_conf"`
	Correct   bool    `json:"correct"`
	UserLabel *string `json:"user_label"`
}

// Option sets an optional Record field.
type Option func(*Record)

// WithCorrect marks whether the prediction was right.
func WithCorrect(correct bool) Option {
	return func(r *Record) {
		r.Correct = correct
	}
}

// WithUserLabel records the label a user supplied for the image.
func WithUserLabel(label string) Option {
	return func(r *Record) {
		r.UserLabel = &label
	}
}

// NewRecord returns the assembled record. Correct defaults to false and
// UserLabel to nil.
func NewRecord(image, modelUsed, predClass string, predConf float64, opts ...Option) Record {
	rec := Record{
		Image:     image,
		ModelUsed: modelUsed,
		PredClass: predClass,
		PredConf:  predConf,
	}
	for _, opt := range opts {
		opt(&rec)
	}
	return rec
}
