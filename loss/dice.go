package loss

import (
	"fmt"
	"log"
	"reflect"

	"github.com/sugarme/gotch"
	ts "github.com/sugarme/gotch/tensor"
)

// Layout declares the axis ordering of a volume tensor.
type Layout string

const (
	// NCDHW puts the class channel at axis 1, spatial axes after it.
	NCDHW Layout = "NCDHW"
	// NDHWC puts the class channel last, spatial axes before it.
	NDHWC Layout = "NDHWC"
)

// Smoothing terms added to numerator and denominator of the overlap
// ratio so that empty classes score 1.0 instead of dividing by zero.
const (
	smoothNr = 1e-6
	smoothDr = 1e-6
)

// Criterion computes a loss or score tensor from a prediction and a target.
//
// Loss implementations return a scalar tensor the optimizer can backprop
// through; metric implementations return a per-class score tensor.
type Criterion interface {
	Forward(pred, target *ts.Tensor) *ts.Tensor
}

// DiceConfig holds the fixed policy of a Dice computer.
type DiceConfig struct {
	// ToOnehotY expands the target from a dense label map to one-hot form.
	ToOnehotY bool
	// ToOnehotX expands the prediction to one-hot form. Used together
	// with UseArgmax so a hard class assignment can be compared
	// elementwise against a one-hot target.
	ToOnehotX bool
	// UseSoftmax normalizes raw prediction scores to per-class
	// probabilities. Mutually exclusive with UseArgmax.
	UseSoftmax bool
	// UseArgmax collapses the prediction to the arg-max class per voxel.
	UseArgmax bool
	// IncludeBackground keeps channel 0 in the overlap statistic.
	IncludeBackground bool
	Layout            Layout
	// NumClasses is the nominal class count. The prediction's channel
	// dimension takes precedence at call time.
	NumClasses int64
}

// Dice computes a smoothed per-class, per-batch-item Dice overlap ratio
// between a prediction volume and a target volume.
// Ref. http://campar.in.tum.de/pub/milletari2016Vnet/milletari2016Vnet.pdf
type Dice struct {
	config DiceConfig
}

// NewDice creates a Dice computer. Invalid configurations are fatal.
func NewDice(config DiceConfig) *Dice {
	if config.UseSoftmax && config.UseArgmax {
		log.Fatalf("loss.NewDice: UseSoftmax and UseArgmax are mutually exclusive.")
	}
	if config.Layout != NCDHW && config.Layout != NDHWC {
		log.Fatalf("loss.NewDice: unsupported layout %q. Expect %q or %q.", config.Layout, NCDHW, NDHWC)
	}
	if config.NumClasses < 1 {
		log.Fatalf("loss.NewDice: NumClasses must be positive. Got %v.", config.NumClasses)
	}

	return &Dice{config}
}

// Forward returns a [batch, class] tensor of Dice ratios, one per batch
// item per retained class. Channel 0 is dropped from both tensors when
// the configuration excludes background.
func (d *Dice) Forward(pred, target *ts.Tensor) *ts.Tensor {
	predSize := pred.MustSize()
	rank := len(predSize)

	var chanAxis int64
	var reduceAxes []int64
	var numPredCh int64
	switch d.config.Layout {
	case NCDHW:
		chanAxis = 1
		for i := 2; i < rank; i++ {
			reduceAxes = append(reduceAxes, int64(i))
		}
		numPredCh = predSize[1]
	case NDHWC:
		chanAxis = -1
		for i := 1; i < rank-1; i++ {
			reduceAxes = append(reduceAxes, int64(i))
		}
		numPredCh = predSize[rank-1]
	}

	var p *ts.Tensor
	switch {
	case d.config.UseSoftmax:
		p = pred.MustSoftmax(chanAxis, gotch.Float, false)
	case d.config.UseArgmax:
		p = pred.MustArgmax(chanAxis, false, false)
	default:
		p = pred.MustShallowClone()
	}

	var y *ts.Tensor
	if d.config.ToOnehotY {
		y = ToOneHot(target, d.config.Layout, chanAxis, numPredCh)
	} else {
		y = target.MustShallowClone()
	}

	if d.config.ToOnehotX {
		ph := ToOneHot(p, d.config.Layout, chanAxis, numPredCh)
		p.MustDrop()
		p = ph
	}

	if !d.config.IncludeBackground {
		if numPredCh <= 1 {
			panic(fmt.Sprintf("loss.Dice: to exclude background the prediction needs more than one channel. Got %v.", numPredCh))
		}
		y = y.MustNarrow(chanAxis, 1, numPredCh-1, true)
		p = p.MustNarrow(chanAxis, 1, numPredCh-1, true)
	}

	ySize, pSize := y.MustSize(), p.MustSize()
	if !reflect.DeepEqual(ySize, pSize) {
		panic(fmt.Sprintf("loss.Dice: target and prediction shape do not match. Target: %v, prediction: %v.", ySize, pSize))
	}

	yp := y.MustMul(p, false)
	intersection := yp.MustSum1(reduceAxes, false, gotch.Double, true)
	targetSum := y.MustSum1(reduceAxes, false, gotch.Double, false)
	predSum := p.MustSum1(reduceAxes, false, gotch.Double, false)
	y.MustDrop()
	p.MustDrop()

	numerator := intersection.MustMul1(ts.FloatScalar(2.0), true).MustAdd1(ts.FloatScalar(smoothNr), true)
	denominator := targetSum.MustAdd(predSum, true).MustAdd1(ts.FloatScalar(smoothDr), true)
	predSum.MustDrop()

	dice := numerator.MustDiv(denominator, true)
	denominator.MustDrop()

	return dice
}

// ToOneHot expands an integer label tensor into numClasses binary
// indicator channels. A singleton channel dimension at channelAxis is
// squeezed away first when the tensor still carries one (rank >= 5).
// The indicator axis lands last; for NCDHW it is moved to axis 1 with
// the spatial axes kept in their original order. Label values outside
// [0, numClasses) are fatal in the underlying one-hot expansion.
func ToOneHot(array *ts.Tensor, layout Layout, channelAxis, numClasses int64) *ts.Tensor {
	idx := array
	squeezed := false
	if len(array.MustSize()) >= 5 {
		idx = array.MustSqueeze1(channelAxis, false)
		squeezed = true
	}

	oneHot := idx.MustTotype(gotch.Int64, squeezed).MustOneHot(numClasses, true)

	if layout == NCDHW {
		rank := len(oneHot.MustSize())
		perm := []int64{0, int64(rank - 1)}
		for i := 1; i < rank-1; i++ {
			perm = append(perm, int64(i))
		}
		oneHot = oneHot.MustPermute(perm, true)
	}

	return oneHot
}
