package domain

// Source identifies one video file on disk. Duration is resolved once at
// startup by probing and never changes afterwards.
type Source struct {
	Name     string
	Path     string
	Duration float64 // seconds
}
