package helpers

// PtrOf returns a pointer to t, for optional config fields.
//
// Example:
//
//	cfg.Temperature = helpers.PtrOf(float32(0.2))
func PtrOf[T any](t T) *T { return &t }
