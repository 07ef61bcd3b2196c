package neural_network

import "math"

// EarlyStopping tracks a validation metric across epochs.
type EarlyStopping struct {
	Patience        int     // Epochs without improvement before stopping
	MinDelta        float64 // Minimum change that counts as improvement
	BestScore       float64 // Best validation score so far
	BestEpoch       int     // Epoch with best score
	EpochsNoImprove int     // Current epochs without improvement
	Metric          string  // "val_loss" or "val_accuracy"
	Minimize        bool    // Whether to minimize the metric
	Enabled         bool    // Whether early stopping is enabled
}

// NewEarlyStopping creates a new early stopping handler
func NewEarlyStopping(patience int, metric string) *EarlyStopping {
	if patience <= 0 {
		return &EarlyStopping{Enabled: false, BestEpoch: -1}
	}

	minimize := metric != "val_accuracy"
	bestScore := math.Inf(1)
	if !minimize {
		bestScore = math.Inf(-1)
	}

	return &EarlyStopping{
		Patience:  patience,
		BestScore: bestScore,
		BestEpoch: -1,
		Metric:    metric,
		Minimize:  minimize,
		Enabled:   true,
	}
}

// Update records the score of epoch and reports whether it improved on the best.
func (es *EarlyStopping) Update(epoch int, score float64) (improved bool) {
	if !es.Enabled {
		return false
	}

	if es.Minimize {
		improved = score < es.BestScore-es.MinDelta
	} else {
		improved = score > es.BestScore+es.MinDelta
	}

	if improved {
		es.BestScore = score
		es.BestEpoch = epoch
		es.EpochsNoImprove = 0
	} else {
		es.EpochsNoImprove++
	}
	return improved
}

// ShouldStop returns whether training should stop
func (es *EarlyStopping) ShouldStop() bool {
	if !es.Enabled {
		return false
	}
	return es.EpochsNoImprove >= es.Patience
}
