package detector

import "sort"

// iouEpsilon keeps IoU finite for zero-area boxes
const iouEpsilon = 1e-6

// NMS performs greedy Non-Maximum Suppression. Boxes are ranked by confidence
// with ties kept in input order; a box is dropped when its IoU with an
// accepted box exceeds iouThreshold. At most topK boxes are returned, all of
// them when topK <= 0. The input slice is not modified.
func NMS(boxes []FaceBox, iouThreshold float32, topK int) []FaceBox {
	if len(boxes) == 0 {
		return nil
	}

	order := make([]int, len(boxes))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool {
		return boxes[order[i]].Confidence > boxes[order[j]].Confidence
	})

	suppressed := make([]bool, len(boxes))
	result := make([]FaceBox, 0, len(boxes))

	for i, idx := range order {
		if suppressed[idx] {
			continue
		}
		result = append(result, boxes[idx])
		if topK > 0 && len(result) >= topK {
			break
		}
		for _, other := range order[i+1:] {
			if suppressed[other] {
				continue
			}
			if IoU(boxes[idx], boxes[other]) > iouThreshold {
				suppressed[other] = true
			}
		}
	}

	return result
}

// IoU calculates Intersection over Union of two boxes
func IoU(a, b FaceBox) float32 {
	x1 := max(a.X, b.X)
	y1 := max(a.Y, b.Y)
	x2 := min(a.Right(), b.Right())
	y2 := min(a.Bottom(), b.Bottom())

	if x1 >= x2 || y1 >= y2 {
		return 0
	}

	intersection := (x2 - x1) * (y2 - y1)
	return intersection / (a.Area() + b.Area() - intersection + iouEpsilon)
}
