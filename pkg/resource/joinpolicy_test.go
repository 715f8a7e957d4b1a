package resource

import "testing"

func TestRebalanceFitZeroWhenEitherSideExceedsCapacity(t *testing.T) {
	if got := RebalanceFit(LeftBias, 120, 50, 100); got != 0 {
		t.Errorf("expected 0 when leftSize exceeds capacity, got %d", got)
	}
	if got := RebalanceFit(RightBias, 50, 120, 100); got != 0 {
		t.Errorf("expected 0 when rightSize exceeds capacity, got %d", got)
	}
}

func TestRebalanceFitLeftBiasScoresLeftSize(t *testing.T) {
	if got := RebalanceFit(LeftBias, 40, 10, 100); got != 40 {
		t.Errorf("expected LeftBias to score leftSize=40, got %d", got)
	}
}

func TestRebalanceFitRightBiasScoresRightSize(t *testing.T) {
	if got := RebalanceFit(RightBias, 40, 10, 100); got != 10 {
		t.Errorf("expected RightBias to score rightSize=10, got %d", got)
	}
}

func TestRebalanceFitEvenBiasScoresCapacityMinusDifference(t *testing.T) {
	if got := RebalanceFit(EvenBias, 40, 30, 100); got != 90 {
		t.Errorf("expected EvenBias to score capacity-diff=90, got %d", got)
	}
	// Symmetric regardless of which side is larger.
	if got := RebalanceFit(EvenBias, 30, 40, 100); got != 90 {
		t.Errorf("expected EvenBias to score capacity-diff=90 symmetrically, got %d", got)
	}
	// Perfectly even siblings score the highest: capacity itself.
	if got := RebalanceFit(EvenBias, 50, 50, 100); got != 100 {
		t.Errorf("expected EvenBias to score capacity=100 for equal siblings, got %d", got)
	}
}

func TestRebalanceFitCallerPicksHighestScore(t *testing.T) {
	// Given a choice, the caller should prefer the candidate with the
	// highest score. With capacity=100, joining to (90,10) under EvenBias
	// scores lower than joining to (50,50).
	uneven := RebalanceFit(EvenBias, 90, 10, 100)
	even := RebalanceFit(EvenBias, 50, 50, 100)
	if !(even > uneven) {
		t.Errorf("expected even split to score higher than uneven split, got even=%d uneven=%d", even, uneven)
	}
}
