package risk

import (
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/Ant0nioSouza/callguard/pkg/models"
)

func sample(score float64) models.RiskSample {
	return models.RiskSample{T: time.Now(), Score: score, Source: models.SourceKeyword}
}

func TestClassifyThresholds(t *testing.T) {
	tests := []struct {
		score float64
		want  models.RiskLevel
	}{
		{0, models.RiskLow},
		{0.29, models.RiskLow},
		{0.3, models.RiskMedium},
		{0.59, models.RiskMedium},
		{0.6, models.RiskHigh},
		{0.79, models.RiskHigh},
		{0.8, models.RiskCritical},
		{1, models.RiskCritical},
	}
	for _, tt := range tests {
		if got := Classify(tt.score); got != tt.want {
			t.Errorf("Classify(%v) = %s, want %s", tt.score, got, tt.want)
		}
	}
}

func TestObserveRatchetsPeak(t *testing.T) {
	agg := NewAggregator(0.7)

	st := agg.Observe(sample(0.9))
	if st.RealTimeScore != 0.9 {
		t.Errorf("realTime = %v", st.RealTimeScore)
	}
	if math.Abs(st.PeakScore-0.63) > 1e-9 {
		t.Errorf("peak = %v, want 0.63", st.PeakScore)
	}
	if st.Level != models.RiskCritical {
		t.Errorf("level = %s, want critical", st.Level)
	}

	st = agg.Observe(sample(0))
	if st.RealTimeScore != 0 {
		t.Errorf("realTime = %v, want 0", st.RealTimeScore)
	}
	if st.Level != models.RiskHigh {
		t.Errorf("level after quiet sample = %s, want high (peak 0.63 sticks)", st.Level)
	}
	if st.Samples != 2 {
		t.Errorf("samples = %d", st.Samples)
	}
}

func TestPeakNeverDecreases(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for run := 0; run < 50; run++ {
		agg := NewAggregator(DefaultDecayWeight)
		prev := 0.0
		for i := 0; i < 200; i++ {
			// inclui valores fora do intervalo para exercitar o clamp
			st := agg.Observe(sample(rng.Float64()*1.4 - 0.2))
			if st.PeakScore < prev {
				t.Fatalf("run %d step %d: peak dropped %v -> %v", run, i, prev, st.PeakScore)
			}
			if st.RealTimeScore < 0 || st.RealTimeScore > 1 {
				t.Fatalf("realTime %v outside [0,1]", st.RealTimeScore)
			}
			prev = st.PeakScore
		}
	}
}

func TestSeedPinsCriticalAgainstLowSamples(t *testing.T) {
	agg := NewAggregator(DefaultDecayWeight)
	st := agg.Seed(0.95)
	if st.Level != models.RiskCritical {
		t.Fatalf("seeded level = %s", st.Level)
	}
	for _, s := range []float64{0, 0.1, 0.2, 0.05} {
		st = agg.Observe(sample(s))
		if st.Level != models.RiskCritical {
			t.Fatalf("level dropped to %s after sample %v", st.Level, s)
		}
	}
	if st = agg.Seed(0.1); st.PeakScore != 0.95 {
		t.Errorf("lower seed changed peak to %v", st.PeakScore)
	}
}

func TestNewAggregatorDefaults(t *testing.T) {
	for _, w := range []float64{0, -1, 1.5} {
		agg := NewAggregator(w)
		if agg.decayWeight != DefaultDecayWeight {
			t.Errorf("NewAggregator(%v).decayWeight = %v", w, agg.decayWeight)
		}
	}
	if st := NewAggregator(0.7).State(); st.Level != models.RiskLow {
		t.Errorf("initial level = %s", st.Level)
	}
}

func TestScoreFloorRoundTrips(t *testing.T) {
	for _, lvl := range []models.RiskLevel{models.RiskLow, models.RiskMedium, models.RiskHigh, models.RiskCritical} {
		if got := Classify(ScoreFloor(lvl)); got != lvl {
			t.Errorf("Classify(ScoreFloor(%s)) = %s", lvl, got)
		}
	}
}
