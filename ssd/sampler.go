package ssd

import "sort"

// Sample flags produced by the negative samplers. Positive anchors train
// both classification and regression, negative anchors train classification
// as background, ignored anchors are masked out of the loss entirely.
const (
	samplePositive = 1
	sampleNegative = -1
	sampleIgnore   = 0
)

// sampleNaive marks every unmatched anchor below negThresh as negative and
// everything between negThresh and a positive match as ignored. Used when
// no class predictions are available to rank negatives with.
func sampleNaive(matches []int, maxIoU []float32, negThresh float32) []int {
	samples := make([]int, len(matches))
	for i, m := range matches {
		switch {
		case m >= 0:
			samples[i] = samplePositive
		case maxIoU[i] < negThresh:
			samples[i] = sampleNegative
		default:
			samples[i] = sampleIgnore
		}
	}
	return samples
}

// sampleHardNegatives performs online hard-negative mining.
//
// Negative candidates (unmatched anchors with best IoU below negThresh) are
// ranked by how confidently the network currently claims they are not
// background, and only the hardest ratio*numPositives of them are kept as
// negatives; the rest are ignored. This keeps the class balance of the loss
// under control, since a dense anchor grid is overwhelmingly background.
//
// Arguments:
//   - matches: Per-anchor ground-truth assignment from MatchAnchors.
//   - maxIoU: Per-anchor best IoU from MatchAnchors.
//   - clsLogits: Per-anchor raw class logits, row-major (N, classes+1).
//     May be nil, in which case sampling falls back to sampleNaive.
//   - numClasses: Number of entries per logits row (classes+1).
//   - negThresh: Upper IoU bound for negative candidates.
//   - ratio: Maximum negatives kept per positive.
func sampleHardNegatives(matches []int, maxIoU []float32, clsLogits []float32, numClasses int, negThresh, ratio float32) []int {
	if clsLogits == nil {
		return sampleNaive(matches, maxIoU, negThresh)
	}

	samples := make([]int, len(matches))
	numPos := 0
	type candidate struct {
		index int
		loss  float32
	}
	var negatives []candidate

	for i, m := range matches {
		switch {
		case m >= 0:
			samples[i] = samplePositive
			numPos++
		case maxIoU[i] < negThresh:
			probs := Softmax(clsLogits[i*numClasses : (i+1)*numClasses])
			// Background confidence shortfall is the hardness proxy: an
			// anchor the network already calls background with certainty
			// contributes nothing.
			negatives = append(negatives, candidate{index: i, loss: 1 - probs[0]})
		default:
			samples[i] = sampleIgnore
		}
	}

	sort.Slice(negatives, func(a, b int) bool {
		return negatives[a].loss > negatives[b].loss
	})

	limit := int(ratio * float32(numPos))
	for rank, c := range negatives {
		if rank < limit {
			samples[c.index] = sampleNegative
		} else {
			samples[c.index] = sampleIgnore
		}
	}
	return samples
}
