// Package extractor is the default minutiae detector. It binarizes the
// scan against its local mean, thins ridges to one pixel and reads ridge
// endings and bifurcations off the skeleton with the crossing number.
package extractor

import (
	"context"
	"math"
	"sort"

	"github.com/Skryldev/fprint/core"
	"github.com/Skryldev/fprint/utils"
)

// Status codes reported in core.ExtractOutput.Status.
const (
	StatusOK             = 0
	StatusInvalidInput   = 1
	StatusTooSmall       = 2
	StatusBinarizeFailed = 3
	StatusCancelled      = 4
)

const (
	// 500 dpi
	defaultPPMM = 19.685
	// Pixels below this contrast are treated as background.
	minReliability = 0.15
	minSide        = 16
)

// Ridge and valley values of the binarized buffer.
const (
	Ridge  byte = 0
	Valley byte = 255
)

// Binarizer separates ridges from valleys. It must return a width*height
// buffer holding only Ridge and Valley values. radius is the half size of
// the neighbourhood the threshold is computed over.
type Binarizer interface {
	Binarize(data []byte, width, height, radius int) ([]byte, error)
}

// Extractor implements core.Extractor.
type Extractor struct {
	Binarizer Binarizer
}

var _ core.Extractor = (*Extractor)(nil)

// New returns an Extractor using the local mean binarizer.
func New() *Extractor {
	return &Extractor{Binarizer: LocalMean{Offset: 2}}
}

func (e *Extractor) Extract(ctx context.Context, in core.ExtractInput) core.ExtractOutput {
	w, h := in.Width, in.Height
	if w <= 0 || h <= 0 || len(in.Data) != w*h {
		return core.ExtractOutput{Status: StatusInvalidInput}
	}
	if w < minSide || h < minSide {
		return core.ExtractOutput{Status: StatusTooSmall}
	}
	ppmm := in.PPMM
	if ppmm <= 0 {
		ppmm = defaultPPMM
	}
	radius := max(3, int(ppmm*0.4+0.5))

	bin, err := e.binarizer().Binarize(in.Data, w, h, radius)
	if err != nil || len(bin) != w*h {
		return core.ExtractOutput{Status: StatusBinarizeFailed}
	}
	if ctx.Err() != nil {
		return core.ExtractOutput{Status: StatusCancelled}
	}

	skel := make([]uint8, w*h)
	for y := 1; y < h-1; y++ {
		for x := 1; x < w-1; x++ {
			if bin[y*w+x] == Ridge {
				skel[y*w+x] = 1
			}
		}
	}
	thin(skel, w, h)
	if ctx.Err() != nil {
		return core.ExtractOutput{Status: StatusCancelled}
	}

	m := detect(skel, in.Data, w, h, radius)
	return core.ExtractOutput{Status: StatusOK, Binarized: bin, Minutiae: m}
}

func (e *Extractor) binarizer() Binarizer {
	if e.Binarizer == nil {
		return LocalMean{Offset: 2}
	}
	return e.Binarizer
}

// LocalMean marks a pixel as ridge when it is darker than the mean of its
// (2*radius+1)² neighbourhood by more than Offset.
type LocalMean struct {
	Offset int
}

func (l LocalMean) Binarize(data []byte, w, h, radius int) ([]byte, error) {
	stride := w + 1
	integral := make([]int64, stride*(h+1))
	for y := 0; y < h; y++ {
		var row int64
		for x := 0; x < w; x++ {
			row += int64(data[y*w+x])
			integral[(y+1)*stride+x+1] = integral[y*stride+x+1] + row
		}
	}

	out := make([]byte, w*h)
	off := int64(l.Offset)
	for y := 0; y < h; y++ {
		y0, y1 := max(0, y-radius), min(h-1, y+radius)
		for x := 0; x < w; x++ {
			x0, x1 := max(0, x-radius), min(w-1, x+radius)
			sum := integral[(y1+1)*stride+x1+1] - integral[y0*stride+x1+1] -
				integral[(y1+1)*stride+x0] + integral[y0*stride+x0]
			n := int64((x1 - x0 + 1) * (y1 - y0 + 1))
			if int64(data[y*w+x])*n < sum-off*n {
				out[y*w+x] = Ridge
			} else {
				out[y*w+x] = Valley
			}
		}
	}
	return out, nil
}

// thin reduces the ridge mask to a one pixel wide skeleton (Zhang-Suen).
// The outermost rows and columns must be zero.
func thin(m []uint8, w, h int) {
	var del []int
	for changed := true; changed; {
		changed = false
		for pass := 0; pass < 2; pass++ {
			del = del[:0]
			for y := 1; y < h-1; y++ {
				for x := 1; x < w-1; x++ {
					i := y*w + x
					if m[i] == 0 {
						continue
					}
					n := neighbours(m, w, i)
					b := 0
					for _, v := range n {
						b += int(v)
					}
					if b < 2 || b > 6 || transitions(n) != 1 {
						continue
					}
					p2, p4, p6, p8 := n[0], n[2], n[4], n[6]
					if pass == 0 && (p2*p4*p6 != 0 || p4*p6*p8 != 0) {
						continue
					}
					if pass == 1 && (p2*p4*p8 != 0 || p2*p6*p8 != 0) {
						continue
					}
					del = append(del, i)
				}
			}
			for _, i := range del {
				m[i] = 0
			}
			if len(del) > 0 {
				changed = true
			}
		}
	}
}

// Clockwise from north.
var (
	ndx = [8]int{0, 1, 1, 1, 0, -1, -1, -1}
	ndy = [8]int{-1, -1, 0, 1, 1, 1, 0, -1}
)

func neighbours(m []uint8, w, i int) [8]uint8 {
	var n [8]uint8
	for k := 0; k < 8; k++ {
		n[k] = m[i+ndy[k]*w+ndx[k]]
	}
	return n
}

// transitions counts 0→1 steps around the neighbourhood. For a skeleton
// pixel this is the crossing number.
func transitions(n [8]uint8) int {
	t := 0
	for k := 0; k < 8; k++ {
		if n[k] == 0 && n[(k+1)%8] == 1 {
			t++
		}
	}
	return t
}

type candidate struct {
	core.Minutia
	dropped bool
}

func detect(skel, raw []byte, w, h, radius int) []core.Minutia {
	border := radius + 2
	var cands []candidate
	for y := border; y < h-border; y++ {
		for x := border; x < w-border; x++ {
			i := y*w + x
			if skel[i] == 0 {
				continue
			}
			var kind core.MinutiaKind
			switch transitions(neighbours(skel, w, i)) {
			case 1:
				kind = core.MinutiaEnding
			case 3:
				kind = core.MinutiaBifurcation
			default:
				continue
			}
			rel := reliability(raw, w, h, x, y, radius)
			if rel < minReliability {
				continue
			}
			cands = append(cands, candidate{Minutia: core.Minutia{
				X:           x,
				Y:           y,
				Direction:   direction(skel, w, h, x, y, radius),
				Reliability: rel,
				Kind:        kind,
			}})
		}
	}

	// Close pairs are almost always broken ridges or spurs.
	limit := radius * radius
	for a := range cands {
		for b := a + 1; b < len(cands); b++ {
			dx, dy := cands[a].X-cands[b].X, cands[a].Y-cands[b].Y
			if dx*dx+dy*dy < limit {
				cands[a].dropped = true
				cands[b].dropped = true
			}
		}
	}

	out := make([]core.Minutia, 0, len(cands))
	for _, c := range cands {
		if !c.dropped {
			out = append(out, c.Minutia)
		}
	}
	if len(out) > core.MaxTemplateMinutiae {
		sort.SliceStable(out, func(a, b int) bool { return out[a].Reliability > out[b].Reliability })
		out = out[:core.MaxTemplateMinutiae]
	}
	sort.Slice(out, func(a, b int) bool {
		if out[a].Y != out[b].Y {
			return out[a].Y < out[b].Y
		}
		return out[a].X < out[b].X
	})
	return out
}

// reliability maps the local contrast around (x, y) to [0, 1].
func reliability(raw []byte, w, h, x, y, radius int) float64 {
	x0, x1 := max(0, x-radius), min(w-1, x+radius)
	y0, y1 := max(0, y-radius), min(h-1, y+radius)
	win := make([]byte, 0, (x1-x0+1)*(y1-y0+1))
	for yy := y0; yy <= y1; yy++ {
		win = append(win, raw[yy*w+x0:yy*w+x1+1]...)
	}
	return math.Min(1, math.Sqrt(float64(utils.SquaredDeviation(win)))/64)
}

// direction follows every branch leaving (x, y) for up to steps pixels and
// points away from their mean end point, in degrees.
func direction(skel []byte, w, h, x, y, steps int) int {
	var sx, sy float64
	for k := 0; k < 8; k++ {
		nx, ny := x+ndx[k], y+ndy[k]
		if skel[ny*w+nx] == 0 {
			continue
		}
		ex, ey := trace(skel, w, h, x, y, nx, ny, steps)
		dx, dy := float64(ex-x), float64(ey-y)
		if d := math.Hypot(dx, dy); d > 0 {
			sx += dx / d
			sy += dy / d
		}
	}
	deg := int(math.Round(math.Atan2(-sy, -sx) * 180 / math.Pi))
	return (deg + 360) % 360
}

// trace walks the skeleton from (px, py) through (x, y) and returns where
// it stopped.
func trace(skel []byte, w, h, px, py, x, y, steps int) (int, int) {
	for s := 1; s < steps; s++ {
		next := -1
		for k := 0; k < 8; k++ {
			nx, ny := x+ndx[k], y+ndy[k]
			if nx <= 0 || ny <= 0 || nx >= w-1 || ny >= h-1 || (nx == px && ny == py) {
				continue
			}
			if skel[ny*w+nx] != 0 {
				next = k
				break
			}
		}
		if next < 0 {
			break
		}
		px, py = x, y
		x, y = x+ndx[next], y+ndy[next]
	}
	return x, y
}
