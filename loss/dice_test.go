package loss_test

import (
	"strings"
	"testing"

	"github.com/sugarme/gotch"
	ts "github.com/sugarme/gotch/tensor"

	"github.com/sugarme/vseg/loss"
)

// labelVolume builds a [1, 1, 2, 2, 2] integer label tensor.
func labelVolume(labels []int64) *ts.Tensor {
	return ts.MustOfSlice(labels).MustView([]int64{1, 1, 2, 2, 2}, true)
}

// strongLogits builds [1, numClasses, 2, 2, 2] logits whose softmax is
// (close to) the one-hot encoding of labels.
func strongLogits(labels []int64, numClasses int64) *ts.Tensor {
	target := labelVolume(labels)
	oneHot := loss.ToOneHot(target, loss.NCDHW, 1, numClasses)
	target.MustDrop()

	return oneHot.MustTotype(gotch.Float, true).MustMul1(ts.FloatScalar(100.0), true)
}

func TestDiceIdentity(t *testing.T) {
	labels := []int64{0, 1, 2, 0, 1, 2, 0, 0}
	target := labelVolume(labels)
	pred := strongLogits(labels, 3)

	dice := loss.NewDice(loss.DiceConfig{
		ToOnehotY:         true,
		UseSoftmax:        true,
		IncludeBackground: true,
		Layout:            loss.NCDHW,
		NumClasses:        3,
	})

	ratio := dice.Forward(pred, target)
	got := ratio.Float64Values()

	if len(got) != 3 {
		t.Fatalf("expected 3 per-class ratios, got %v", len(got))
	}
	for c, v := range got {
		if v < 0.999 || v > 1.0 {
			t.Errorf("class %v: expected dice ~1.0 for identical volumes, got %v", c, v)
		}
	}
}

func TestDiceDisjoint(t *testing.T) {
	// target is all class 1, prediction all class 2: zero overlap for
	// both foreground classes.
	target := labelVolume([]int64{1, 1, 1, 1, 1, 1, 1, 1})
	pred := strongLogits([]int64{2, 2, 2, 2, 2, 2, 2, 2}, 3)

	dice := loss.NewDice(loss.DiceConfig{
		ToOnehotY:         true,
		UseSoftmax:        true,
		IncludeBackground: false,
		Layout:            loss.NCDHW,
		NumClasses:        3,
	})

	got := dice.Forward(pred, target).Float64Values()
	for c, v := range got {
		if v > 1e-3 {
			t.Errorf("class %v: expected dice ~0 for disjoint volumes, got %v", c+1, v)
		}
	}
}

func TestDiceEmptyClass(t *testing.T) {
	// class 2 appears in neither volume: smoothing must yield exactly
	// smooth_nr/smooth_dr = 1.0, not a division by zero.
	labels := []int64{0, 1, 0, 1, 0, 1, 0, 1}
	target := labelVolume(labels)
	pred := strongLogits(labels, 3)

	dice := loss.NewDice(loss.DiceConfig{
		ToOnehotY:         true,
		UseArgmax:         true,
		ToOnehotX:         true,
		IncludeBackground: true,
		Layout:            loss.NCDHW,
		NumClasses:        3,
	})

	got := dice.Forward(pred, target).Float64Values()
	if v := got[2]; v < 0.999 || v > 1.001 {
		t.Errorf("expected dice 1.0 for a class empty in both volumes, got %v", v)
	}
}

func TestDiceBackgroundExclusion(t *testing.T) {
	labels := []int64{0, 1, 2, 0, 1, 2, 0, 1}
	target := labelVolume(labels)
	pred := strongLogits([]int64{0, 1, 1, 0, 2, 2, 0, 1}, 3)

	config := loss.DiceConfig{
		ToOnehotY:         true,
		UseSoftmax:        true,
		IncludeBackground: true,
		Layout:            loss.NCDHW,
		NumClasses:        3,
	}
	withBg := loss.NewDice(config).Forward(pred, target)

	config.IncludeBackground = false
	withoutBg := loss.NewDice(config).Forward(pred, target)

	// dropping channel 0 from the inclusive result must match the
	// exclusive computation.
	dropped := withBg.MustNarrow(1, 1, 2, true)

	want := withoutBg.Float64Values()
	got := dropped.Float64Values()
	for i := range want {
		if diff := got[i] - want[i]; diff > 1e-9 || diff < -1e-9 {
			t.Errorf("class %v: background round-trip mismatch: %v vs %v", i+1, got[i], want[i])
		}
	}
}

func TestDiceLayoutInvariance(t *testing.T) {
	labels := []int64{0, 1, 2, 0, 1, 2, 0, 1}
	target := labelVolume(labels)
	pred := strongLogits([]int64{0, 1, 1, 0, 2, 2, 0, 1}, 3)

	// same logical volume, channel-last
	predLast := pred.MustPermute([]int64{0, 2, 3, 4, 1}, false)
	targetLast := target.MustPermute([]int64{0, 2, 3, 4, 1}, false)

	config := loss.DiceConfig{
		ToOnehotY:         true,
		UseSoftmax:        true,
		IncludeBackground: true,
		Layout:            loss.NCDHW,
		NumClasses:        3,
	}
	first := loss.NewDice(config).Forward(pred, target).Float64Values()

	config.Layout = loss.NDHWC
	last := loss.NewDice(config).Forward(predLast, targetLast).Float64Values()

	for i := range first {
		if diff := first[i] - last[i]; diff > 1e-6 || diff < -1e-6 {
			t.Errorf("class %v: layout mismatch: NCDHW %v vs NDHWC %v", i, first[i], last[i])
		}
	}
}

func TestToOneHotRoundTrip(t *testing.T) {
	labels := []int64{0, 1, 2, 0, 1, 2, 0, 0}
	target := labelVolume(labels)

	oneHot := loss.ToOneHot(target, loss.NCDHW, 1, 3)
	back := oneHot.MustArgmax(1, false, true).MustView([]int64{-1}, true)

	got := back.Int64Values()
	for i, want := range labels {
		if got[i] != want {
			t.Errorf("voxel %v: one-hot round trip: got %v, want %v", i, got[i], want)
		}
	}
}

func TestDiceSingleChannelBackgroundPanics(t *testing.T) {
	defer func() {
		r := recover()
		if r == nil {
			t.Fatal("expected panic when excluding background with a single-channel prediction")
		}
		if msg, ok := r.(string); !ok || !strings.Contains(msg, "more than one channel") {
			t.Errorf("unexpected panic message: %v", r)
		}
	}()

	pred := ts.MustOfSlice([]float64{1, 2, 3, 4, 5, 6, 7, 8}).MustView([]int64{1, 1, 2, 2, 2}, true)
	target := labelVolume([]int64{0, 0, 0, 0, 0, 0, 0, 0})

	dice := loss.NewDice(loss.DiceConfig{
		ToOnehotY:         true,
		UseSoftmax:        true,
		IncludeBackground: false,
		Layout:            loss.NCDHW,
		NumClasses:        1,
	})
	dice.Forward(pred, target)
}

func TestDiceShapeMismatchPanics(t *testing.T) {
	defer func() {
		r := recover()
		if r == nil {
			t.Fatal("expected panic on target/prediction shape mismatch")
		}
		if msg, ok := r.(string); !ok || !strings.Contains(msg, "shape do not match") {
			t.Errorf("unexpected panic message: %v", r)
		}
	}()

	pred := strongLogits([]int64{0, 1, 2, 0, 1, 2, 0, 0}, 3)
	// pre-encoded target with the wrong channel count
	target := ts.MustOfSlice(make([]float64, 16)).MustView([]int64{1, 2, 2, 2, 2}, true)

	dice := loss.NewDice(loss.DiceConfig{
		UseSoftmax:        true,
		IncludeBackground: true,
		Layout:            loss.NCDHW,
		NumClasses:        3,
	})
	dice.Forward(pred, target)
}
