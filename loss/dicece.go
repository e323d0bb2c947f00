package loss

import (
	"github.com/sugarme/gotch"
	ts "github.com/sugarme/gotch/tensor"
)

// DiceCELoss averages a soft (softmax) Dice loss with a multi-class
// cross-entropy loss over the same prediction logits. The two terms get
// equal weight so neither dominates from numeric scale alone.
type DiceCELoss struct {
	dice   *Dice
	layout Layout
}

// NewDiceCELoss creates a DiceCELoss.
func NewDiceCELoss(toOnehotY bool, layout Layout, includeBackground bool, numClasses int64) *DiceCELoss {
	dice := NewDice(DiceConfig{
		ToOnehotY:         toOnehotY,
		UseSoftmax:        true,
		IncludeBackground: includeBackground,
		Layout:            layout,
		NumClasses:        numClasses,
	})

	return &DiceCELoss{dice: dice, layout: layout}
}

// Forward returns the scalar loss `(mean(1 - dice) + crossEntropy) / 2`.
func (l *DiceCELoss) Forward(pred, target *ts.Tensor) *ts.Tensor {
	ce := crossEntropy(pred, target, l.layout)

	ratio := l.dice.Forward(pred, target)
	dice := ratio.MustMul1(ts.FloatScalar(-1), true).MustAdd1(ts.FloatScalar(1), true).MustMean(gotch.Double, true)

	sum := dice.MustAdd(ce, true)
	ce.MustDrop()

	return sum.MustDiv1(ts.FloatScalar(2.0), true)
}

// crossEntropy computes mean multi-class cross-entropy between raw
// logits and a dense label map. Voxels are flattened to [voxel, class]
// so the NLL primitive sees the 2D form it expects.
func crossEntropy(logit, target *ts.Tensor, layout Layout) *ts.Tensor {
	size := logit.MustSize()
	rank := len(size)

	var flat *ts.Tensor
	var numClasses int64
	var chanAxis int64
	switch layout {
	case NCDHW:
		numClasses = size[1]
		chanAxis = 1
		// move the class channel last before flattening
		perm := []int64{0}
		for i := 2; i < rank; i++ {
			perm = append(perm, int64(i))
		}
		perm = append(perm, 1)
		flat = logit.MustPermute(perm, false).MustReshape([]int64{-1, numClasses}, true)
	default: // NDHWC
		numClasses = size[rank-1]
		chanAxis = -1
		flat = logit.MustReshape([]int64{-1, numClasses}, false)
	}

	logp := flat.MustLogSoftmax(1, gotch.Float, true)

	var idx *ts.Tensor
	if len(target.MustSize()) == rank {
		// target still carries its singleton channel axis
		idx = target.MustSqueeze1(chanAxis, false)
	} else {
		idx = target.MustShallowClone()
	}
	labels := idx.MustTotype(gotch.Int64, true).MustReshape([]int64{-1}, true)

	loss := logp.MustNllLoss(labels, ts.NewTensor(), 1, -100, true)
	labels.MustDrop()

	return loss
}
