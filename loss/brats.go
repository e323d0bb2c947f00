package loss

import (
	"github.com/sugarme/gotch"
	ts "github.com/sugarme/gotch/tensor"
)

// Smoothing used by the binary Dice term of the BraTS loss.
const bratsSmooth = 1e-5

// BraTSLoss scores brain-tumor segmentation against the BraTS label
// scheme where values {1,2,3} mark nested tumor sub-regions. Each of
// the three prediction channels is paired with one binary region mask
// and scored independently with Dice + BCE; region losses are summed.
//
// The regions overlap (core and enhancing are subsets of whole tumor),
// so independent per-voxel binary losses credit the nesting where a
// mutually-exclusive multi-class Dice would not.
type BraTSLoss struct{}

// NewBraTSLoss creates a BraTSLoss.
func NewBraTSLoss() *BraTSLoss {
	return &BraTSLoss{}
}

// BraTSRegions decomposes an integer label volume into the three
// overlapping binary region masks, as float tensors of target's shape:
//
//	whole tumor:     target > 0
//	tumor core:      target == 1 or target == 3
//	enhancing tumor: target == 3
func BraTSRegions(target *ts.Tensor) (wt, tc, et *ts.Tensor) {
	wt = target.MustGt(ts.FloatScalar(0.0), false).MustTotype(gotch.Float, true)
	et = target.MustEq(ts.IntScalar(3), false).MustTotype(gotch.Float, true)

	eq1 := target.MustEq(ts.IntScalar(1), false).MustTotype(gotch.Float, true)
	tc = eq1.MustAdd(et, true).MustGt(ts.FloatScalar(0.0), true).MustTotype(gotch.Float, true)

	return wt, tc, et
}

// Forward returns the scalar sum of the three per-region binary losses.
// pred is a 3-channel NCDHW logit volume; target is an integer label
// volume with a singleton channel axis.
func (l *BraTSLoss) Forward(pred, target *ts.Tensor) *ts.Tensor {
	wt, tc, et := BraTSRegions(target)

	pwt := pred.MustNarrow(1, 0, 1, false)
	ptc := pred.MustNarrow(1, 1, 1, false)
	pet := pred.MustNarrow(1, 2, 1, false)

	lwt := regionLoss(pwt, wt)
	ltc := regionLoss(ptc, tc)
	let := regionLoss(pet, et)

	for _, x := range []*ts.Tensor{wt, tc, et, pwt, ptc, pet} {
		x.MustDrop()
	}

	sum := lwt.MustAdd(ltc, true).MustAdd(let, true)
	ltc.MustDrop()
	let.MustDrop()

	return sum
}

// regionLoss is binary Dice loss plus BCE-with-logits for one region.
func regionLoss(logit, mask *ts.Tensor) *ts.Tensor {
	dice := BinaryDiceLoss(logit, mask)

	// NOTE: reduction: none = 0; mean = 1; sum = 2. Default=mean
	bce := logit.MustBinaryCrossEntropyWithLogits(mask, ts.NewTensor(), ts.NewTensor(), 1, false)

	loss := dice.MustAdd(bce, true)
	bce.MustDrop()

	return loss
}

// BinaryDiceLoss is a soft Dice loss with built-in sigmoid activation,
// reduced batch-wise: intersection and sums pool the batch axis together
// with the spatial axes before the ratio is formed, then the per-channel
// losses are averaged.
// Ref. https://github.com/pytorch/pytorch/issues/1249
func BinaryDiceLoss(logit, mask *ts.Tensor) *ts.Tensor {
	p := logit.MustSigmoid(false)

	size := p.MustSize()
	dims := []int64{0}
	for i := 2; i < len(size); i++ {
		dims = append(dims, int64(i))
	}

	pm := p.MustMul(mask, false)
	intersection := pm.MustSum1(dims, false, gotch.Double, true)
	predSum := p.MustSum1(dims, false, gotch.Double, true)
	maskSum := mask.MustSum1(dims, false, gotch.Double, false)

	numerator := intersection.MustMul1(ts.FloatScalar(2.0), true).MustAdd1(ts.FloatScalar(bratsSmooth), true)
	denominator := predSum.MustAdd(maskSum, true).MustAdd1(ts.FloatScalar(bratsSmooth), true)
	maskSum.MustDrop()

	dc := numerator.MustDiv(denominator, true)
	denominator.MustDrop()

	return dc.MustMul1(ts.FloatScalar(-1), true).MustAdd1(ts.FloatScalar(1), true).MustMean(gotch.Double, true)
}
