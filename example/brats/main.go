package main

import (
	"fmt"
	"log"

	"github.com/sugarme/gotch"
	ts "github.com/sugarme/gotch/tensor"

	"github.com/sugarme/vseg/loss"
	"github.com/sugarme/vseg/metric"
	"github.com/sugarme/vseg/report"
)

const (
	batchSize  = 2
	volSize    = 16
	numClasses = 3
	numEpochs  = 3
)

// fakeBatch synthesizes one batch of logits plus a dense label volume
// with values in [0, maxLabel].
func fakeBatch(maxLabel int64) (pred, target *ts.Tensor) {
	pred = ts.MustRandn([]int64{batchSize, numClasses, volSize, volSize, volSize}, gotch.Float, gotch.CPU)

	flat := ts.MustRand([]int64{batchSize, 1, volSize, volSize, volSize}, gotch.Float, gotch.CPU)
	target = flat.MustMul1(ts.FloatScalar(float64(maxLabel)+0.999), true).MustTotype(gotch.Int64, true)

	return pred, target
}

func main() {
	diceCE := loss.NewDiceCELoss(true, loss.NCDHW, false, numClasses)
	brats := loss.NewBraTSLoss()
	score := metric.NewDiceScore(true, loss.NCDHW, false, numClasses)

	history := report.NewHistory([]string{"kidney", "tumor"})

	for epoch := 1; epoch <= numEpochs; epoch++ {
		// multi-class task: labels in [0, numClasses)
		pred, target := fakeBatch(numClasses - 1)

		l := diceCE.Forward(pred, target)
		fmt.Printf("epoch %v - dice+ce loss: %0.4f\n", epoch, l.Float64Values()[0])
		l.MustDrop()

		var perClass []float64
		ts.NoGrad(func() {
			s := score.Forward(pred, target)
			perClass = s.Float64Values()
			s.MustDrop()
		})
		if err := history.Append(epoch, perClass); err != nil {
			log.Fatal(err)
		}

		pred.MustDrop()
		target.MustDrop()

		// BraTS task: region labels in {0,1,2,3}
		bpred, btarget := fakeBatch(3)
		bl := brats.Forward(bpred, btarget)
		fmt.Printf("epoch %v - brats loss: %0.4f\n", epoch, bl.Float64Values()[0])
		bl.MustDrop()
		bpred.MustDrop()
		btarget.MustDrop()
	}

	if err := history.SaveCSV("scores.csv"); err != nil {
		log.Fatal(err)
	}
	if err := history.SaveCurve("scores.png"); err != nil {
		log.Fatal(err)
	}
}
