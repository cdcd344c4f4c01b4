package domain

// Profile is one rung of the quality ladder: output geometry, target frame
// rate and the decoder speed preset used for each extraction.
type Profile struct {
	Name   string
	Width  int
	Height int
	FPS    float64
	Preset string
}

// FrameBytes is the exact payload size one extraction must produce.
func (p Profile) FrameBytes() int {
	return p.Width * p.Height * 3
}

// DefaultLadder is the ordered profile set, lowest first. The adaptive
// controller moves a single pointer across it, one step at a time.
func DefaultLadder() []Profile {
	return []Profile{
		{Name: "low", Width: 320, Height: 180, FPS: 5, Preset: "ultrafast"},
		{Name: "medium", Width: 640, Height: 360, FPS: 10, Preset: "veryfast"},
		{Name: "high", Width: 960, Height: 540, FPS: 15, Preset: "faster"},
		{Name: "ultra", Width: 1280, Height: 720, FPS: 24, Preset: "fast"},
	}
}
