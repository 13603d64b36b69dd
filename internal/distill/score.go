package distill

// macroF1 averages per-class F1 over every class present in either the true
// or predicted labels. Classes with no true or predicted instances score
// zero rather than being skipped, matching the usual zero-division
// convention for macro averaging.
func macroF1(yTrue, yPred []string) float64 {
	if len(yTrue) == 0 {
		return 0
	}

	classes := make(map[string]struct{})
	for _, y := range yTrue {
		classes[y] = struct{}{}
	}
	for _, y := range yPred {
		classes[y] = struct{}{}
	}

	var sum float64
	for class := range classes {
		var tp, fp, fn float64
		for i := range yTrue {
			switch {
			case yPred[i] == class && yTrue[i] == class:
				tp++
			case yPred[i] == class:
				fp++
			case yTrue[i] == class:
				fn++
			}
		}
		if tp > 0 {
			precision := tp / (tp + fp)
			recall := tp / (tp + fn)
			sum += 2 * precision * recall / (precision + recall)
		}
	}
	return sum / float64(len(classes))
}

func accuracy(yTrue, yPred []string) float64 {
	if len(yTrue) == 0 {
		return 0
	}
	var hits float64
	for i := range yTrue {
		if yTrue[i] == yPred[i] {
			hits++
		}
	}
	return hits / float64(len(yTrue))
}
