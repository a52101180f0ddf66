package session

// LatencyTracker accumulates per-turn stage latency samples for one call.
// The persisted record carries the per-stage means; total latency is the sum
// of the three means, i.e. the mean end-to-end response time of a turn.
type LatencyTracker struct {
	asr stageSamples
	llm stageSamples
	tts stageSamples
}

type stageSamples struct {
	sum   float64
	count int
}

func (s *stageSamples) add(ms float64) {
	if ms <= 0 {
		return
	}
	s.sum += ms
	s.count++
}

func (s *stageSamples) mean() float64 {
	if s.count == 0 {
		return 0
	}
	return s.sum / float64(s.count)
}

// AddASR records one recognition latency sample in milliseconds.
func (t *LatencyTracker) AddASR(ms float64) { t.asr.add(ms) }

// AddLLM records one intent extraction latency sample in milliseconds.
func (t *LatencyTracker) AddLLM(ms float64) { t.llm.add(ms) }

// AddTTS records one synthesis first-chunk latency sample in milliseconds.
func (t *LatencyTracker) AddTTS(ms float64) { t.tts.add(ms) }

func (t *LatencyTracker) ASRMean() float64 { return t.asr.mean() }
func (t *LatencyTracker) LLMMean() float64 { return t.llm.mean() }
func (t *LatencyTracker) TTSMean() float64 { return t.tts.mean() }

// TotalMean is the mean per-turn response latency across all three stages.
func (t *LatencyTracker) TotalMean() float64 {
	return t.asr.mean() + t.llm.mean() + t.tts.mean()
}
