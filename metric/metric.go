package metric

import (
	"github.com/sugarme/gotch"
	ts "github.com/sugarme/gotch/tensor"

	"github.com/sugarme/vseg/loss"
)

// DiceScore is the evaluation-side Dice metric: hard (argmax) class
// assignment, one-hot re-expansion, per-class ratio averaged across the
// batch dimension. Not intended for differentiation.
type DiceScore struct {
	dice *loss.Dice
}

// NewDiceScore creates a DiceScore. Argmax collapse is on by default
// and can be overridden for predictions already holding class indices.
func NewDiceScore(toOnehotY bool, layout loss.Layout, includeBackground bool, numClasses int64, useArgmaxOpt ...bool) *DiceScore {
	useArgmax := true
	if len(useArgmaxOpt) > 0 {
		useArgmax = useArgmaxOpt[0]
	}

	dice := loss.NewDice(loss.DiceConfig{
		ToOnehotY:         toOnehotY,
		ToOnehotX:         true,
		UseArgmax:         useArgmax,
		IncludeBackground: includeBackground,
		Layout:            layout,
		NumClasses:        numClasses,
	})

	return &DiceScore{dice}
}

// Forward returns one mean Dice score per retained class.
func (m *DiceScore) Forward(pred, target *ts.Tensor) *ts.Tensor {
	ratio := m.dice.Forward(pred, target)
	return ratio.MustMean1([]int64{0}, false, gotch.Double, true)
}

// DiceCoeff measures binary overlap between two volumes after
// thresholding both at 0.5.
// Ref. https://www.jeremyjordan.me/semantic-segmentation/
func DiceCoeff(pred, target *ts.Tensor) float64 {
	p, t := threshold(pred), threshold(target)

	pt := p.MustMul(t, false)
	overlap := pt.MustSum(gotch.Double, true).Float64Values()[0]
	union := p.MustSum(gotch.Double, true).Float64Values()[0] + t.MustSum(gotch.Double, true).Float64Values()[0]

	return (2 * overlap) / (union + 0.001)
}

// IoU is intersection over union of the thresholded volumes.
func IoU(pred, target *ts.Tensor) float64 {
	p, t := threshold(pred), threshold(target)

	pt := p.MustMul(t, false)
	overlap := pt.MustSum(gotch.Double, true).Float64Values()[0]
	total := p.MustSum(gotch.Double, true).Float64Values()[0] + t.MustSum(gotch.Double, true).Float64Values()[0]

	return overlap / (total - overlap + 0.001)
}

// JaccardIndex averages per-class IoU over the foreground classes of a
// dense label volume with nClasses classes (class 0 = background).
// Classes absent from both volumes do not contribute.
func JaccardIndex(pred, target *ts.Tensor, nClasses int64) float64 {
	pflat := pred.MustView([]int64{-1}, false)
	tflat := target.MustView([]int64{-1}, false)

	var sum float64
	var n int
	for c := int64(1); c < nClasses; c++ {
		p := pflat.MustEq(ts.IntScalar(c), false).MustTotype(gotch.Double, true)
		t := tflat.MustEq(ts.IntScalar(c), false).MustTotype(gotch.Double, true)

		pt := p.MustMul(t, false)
		overlap := pt.MustSum(gotch.Double, true).Float64Values()[0]
		total := p.MustSum(gotch.Double, false).Float64Values()[0] + t.MustSum(gotch.Double, false).Float64Values()[0]
		p.MustDrop()
		t.MustDrop()

		union := total - overlap
		if union > 0 {
			sum += overlap / union
			n++
		}
	}

	pflat.MustDrop()
	tflat.MustDrop()

	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

func threshold(x *ts.Tensor) *ts.Tensor {
	flat := x.MustView([]int64{-1}, false)
	return flat.MustGt(ts.FloatScalar(0.5), true).MustTotype(gotch.Double, true)
}
