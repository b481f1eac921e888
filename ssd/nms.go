package ssd

import (
	"sort"

	"github.com/pkg/errors"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-ssd/images"
)

// NMSConfig parameterizes greedy non-maximum suppression. The zero value
// disables suppression entirely.
type NMSConfig struct {
	// Thresh suppresses overlapping boxes with IoU >= Thresh. Values
	// outside (0,1) disable NMS.
	Thresh float32
	// TopK caps the number of detections kept per image; <= 0 keeps all.
	TopK int
	// ForceSuppress suppresses across classes instead of per class.
	ForceSuppress bool
}

// Enabled reports whether the configuration actually suppresses anything.
func (c NMSConfig) Enabled() bool {
	return c.Thresh > 0 && c.Thresh < 1
}

// BoxNMS applies greedy non-maximum suppression in place to a detection
// tensor of shape (batch, N, 6) with rows (class id, score, x1, y1, x2, y2).
//
// Per image, valid rows (id >= 0) are visited in descending score order;
// each kept row suppresses later rows of the same class (any class when
// ForceSuppress is set) whose IoU with it reaches cfg.Thresh. Suppressed
// rows and rows beyond cfg.TopK keeps get every field overwritten with -1.
// Row positions never move, so anchor alignment of the tensor survives.
//
// An N of zero is a no-op, and a disabled config returns immediately.
func BoxNMS(result *tensor.Dense, cfg NMSConfig) error {
	if !cfg.Enabled() {
		return nil
	}
	rs := result.Shape()
	if len(rs) != 3 || rs[2] != 6 {
		return errors.Errorf("nms: want detections of shape (B, N, 6), got %v", rs)
	}
	batch, n := rs[0], rs[1]
	if n == 0 {
		return nil
	}
	data := result.Data().([]float32)

	for b := 0; b < batch; b++ {
		rows := data[b*n*6 : (b+1)*n*6]

		order := make([]int, 0, n)
		for i := 0; i < n; i++ {
			if rows[i*6] >= 0 {
				order = append(order, i)
			}
		}
		sort.Slice(order, func(x, y int) bool {
			return rows[order[x]*6+1] > rows[order[y]*6+1]
		})

		suppressed := make([]bool, n)
		kept := 0
		for oi, i := range order {
			if suppressed[i] {
				continue
			}
			if cfg.TopK > 0 && kept >= cfg.TopK {
				suppressed[i] = true
				continue
			}
			kept++

			ri := rows[i*6 : i*6+6]
			boxI := images.Box{X1: ri[2], Y1: ri[3], X2: ri[4], Y2: ri[5]}
			for _, j := range order[oi+1:] {
				if suppressed[j] {
					continue
				}
				rj := rows[j*6 : j*6+6]
				if !cfg.ForceSuppress && ri[0] != rj[0] {
					continue
				}
				boxJ := images.Box{X1: rj[2], Y1: rj[3], X2: rj[4], Y2: rj[5]}
				if images.BoxIoU(boxI, boxJ) >= cfg.Thresh {
					suppressed[j] = true
				}
			}
		}

		for _, i := range order {
			if suppressed[i] {
				for k := 0; k < 6; k++ {
					rows[i*6+k] = -1
				}
			}
		}
	}

	return nil
}
