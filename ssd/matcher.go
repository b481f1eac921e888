package ssd

import "github.com/nvr-ai/go-ssd/images"

// IoUMatrix computes pairwise IoU between anchors (center format rows of
// four values) and ground-truth corner boxes.
//
// Arguments:
//   - anchors: Flat (N*4) anchor data in center format.
//   - gts: Ground-truth corner boxes.
//
// Returns:
//   - [][]float32: ious[i][j] is the overlap of anchor i with ground truth j.
func IoUMatrix(anchors []float32, gts []images.Box) [][]float32 {
	n := len(anchors) / 4
	ious := make([][]float32, n)
	for i := 0; i < n; i++ {
		a := images.BoxFromCenter(anchors[i*4], anchors[i*4+1], anchors[i*4+2], anchors[i*4+3])
		row := make([]float32, len(gts))
		for j, gt := range gts {
			row[j] = images.BoxIoU(a, gt)
		}
		ious[i] = row
	}
	return ious
}

// MatchAnchors assigns anchors to ground-truth boxes.
//
// Two stages, mirroring bipartite-then-threshold matching:
//  1. Every ground truth is force-matched to its best remaining anchor,
//     picking globally highest IoU pairs first so no two ground truths
//     claim the same anchor. This guarantees each ground truth at least
//     one positive even when no anchor reaches iouThresh.
//  2. Remaining anchors take their best ground truth when the IoU reaches
//     iouThresh.
//
// Returns:
//   - matches: Per-anchor ground-truth index, -1 for unmatched.
//   - maxIoU: Per-anchor best IoU over all ground truths, used downstream
//     to split negatives from ignored anchors.
func MatchAnchors(ious [][]float32, iouThresh float32) (matches []int, maxIoU []float32) {
	n := len(ious)
	matches = make([]int, n)
	maxIoU = make([]float32, n)
	for i := range matches {
		matches[i] = -1
	}
	if n == 0 {
		return matches, maxIoU
	}
	numGT := len(ious[0])

	for i := 0; i < n; i++ {
		for j := 0; j < numGT; j++ {
			if ious[i][j] > maxIoU[i] {
				maxIoU[i] = ious[i][j]
			}
		}
	}

	// Stage 1: greedy bipartite. Pick the globally best (anchor, gt) pair,
	// retire both, repeat until every gt has an anchor.
	anchorTaken := make([]bool, n)
	gtTaken := make([]bool, numGT)
	for assigned := 0; assigned < numGT; assigned++ {
		bestI, bestJ := -1, -1
		var bestIoU float32 = -1
		for i := 0; i < n; i++ {
			if anchorTaken[i] {
				continue
			}
			for j := 0; j < numGT; j++ {
				if gtTaken[j] {
					continue
				}
				if ious[i][j] > bestIoU {
					bestIoU = ious[i][j]
					bestI, bestJ = i, j
				}
			}
		}
		if bestI < 0 {
			break // more ground truths than anchors
		}
		matches[bestI] = bestJ
		anchorTaken[bestI] = true
		gtTaken[bestJ] = true
	}

	// Stage 2: threshold matching for the rest.
	for i := 0; i < n; i++ {
		if matches[i] >= 0 {
			continue
		}
		bestJ := -1
		var best float32 = -1
		for j := 0; j < numGT; j++ {
			if ious[i][j] > best {
				best = ious[i][j]
				bestJ = j
			}
		}
		if bestJ >= 0 && best >= iouThresh {
			matches[i] = bestJ
		}
	}

	return matches, maxIoU
}
