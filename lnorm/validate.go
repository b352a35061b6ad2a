package lnorm

// Argument validation shared by all entry points. Every check runs before a
// single kernel is scheduled; the kernels themselves assume valid shapes.
// T is the tensor element type, S the per-row statistic type (they differ
// only for the Float16 variants).

// rowsOf derives the row count of a batch from its flat length.
func rowsOf(op string, n, normSize int) (int, error) {
	if normSize <= 0 {
		return 0, shapeErrorf(op, "normSize must be positive, got %d", normSize)
	}
	if n%normSize != 0 {
		return 0, shapeErrorf(op, "tensor length %d is not a multiple of normSize %d", n, normSize)
	}
	return n / normSize, nil
}

func checkLen[T any](op, name string, s []T, want int) error {
	if len(s) != want {
		return shapeErrorf(op, "%s length %d, want %d", name, len(s), want)
	}
	return nil
}

func validateLayerNormForward[T, S any](op string, input, output []T, normSize int,
	gamma, beta []T, mean, invStd []S) (int, error) {
	rows, err := rowsOf(op, len(input), normSize)
	if err != nil {
		return 0, err
	}
	if err := checkLen(op, "output", output, len(input)); err != nil {
		return 0, err
	}
	if (gamma == nil) != (beta == nil) {
		return 0, shapeErrorf(op, "gamma and beta must both be nil or both be set")
	}
	if gamma != nil {
		if err := checkLen(op, "gamma", gamma, normSize); err != nil {
			return 0, err
		}
		if err := checkLen(op, "beta", beta, normSize); err != nil {
			return 0, err
		}
	}
	if err := checkLen(op, "mean", mean, rows); err != nil {
		return 0, err
	}
	if err := checkLen(op, "invStd", invStd, rows); err != nil {
		return 0, err
	}
	return rows, nil
}

func validateRMSNormForward[T, S any](op string, input, output []T, normSize int,
	gamma []T, invStd []S) (int, error) {
	rows, err := rowsOf(op, len(input), normSize)
	if err != nil {
		return 0, err
	}
	if err := checkLen(op, "output", output, len(input)); err != nil {
		return 0, err
	}
	if gamma != nil {
		if err := checkLen(op, "gamma", gamma, normSize); err != nil {
			return 0, err
		}
	}
	if err := checkLen(op, "invStd", invStd, rows); err != nil {
		return 0, err
	}
	return rows, nil
}

func validateLayerNormBackward[T, S any](op string, gradOutput, inputOrOutput []T, normSize int,
	mean, invStd []S, gamma, beta []T, memoryEfficient bool,
	gradInput, gradGamma, gradBeta []T) (int, error) {
	rows, err := rowsOf(op, len(gradOutput), normSize)
	if err != nil {
		return 0, err
	}
	if err := checkLen(op, "inputOrOutput", inputOrOutput, len(gradOutput)); err != nil {
		return 0, err
	}
	if err := checkLen(op, "gradInput", gradInput, len(gradOutput)); err != nil {
		return 0, err
	}
	if err := checkLen(op, "invStd", invStd, rows); err != nil {
		return 0, err
	}
	// mean is consumed only by the standard mode; memory-efficient callers
	// may pass nil.
	if !memoryEfficient {
		if mean == nil && rows > 0 {
			return 0, shapeErrorf(op, "mean is required unless memoryEfficient is set")
		}
		if err := checkLen(op, "mean", mean, rows); err != nil {
			return 0, err
		}
	}
	if (gamma == nil) != (beta == nil) {
		return 0, shapeErrorf(op, "gamma and beta must both be nil or both be set")
	}
	if (gamma == nil) != (gradGamma == nil) {
		return 0, shapeErrorf(op, "gradGamma must be set exactly when gamma is set")
	}
	if (beta == nil) != (gradBeta == nil) {
		return 0, shapeErrorf(op, "gradBeta must be set exactly when beta is set")
	}
	if gamma != nil {
		for _, c := range []struct {
			name string
			s    []T
		}{{"gamma", gamma}, {"beta", beta}, {"gradGamma", gradGamma}, {"gradBeta", gradBeta}} {
			if err := checkLen(op, c.name, c.s, normSize); err != nil {
				return 0, err
			}
		}
	}
	return rows, nil
}

func validateRMSNormBackward[T, S any](op string, gradOutput, inputOrOutput []T, normSize int,
	invStd []S, gamma []T, gradInput, gradGamma []T) (int, error) {
	rows, err := rowsOf(op, len(gradOutput), normSize)
	if err != nil {
		return 0, err
	}
	if err := checkLen(op, "inputOrOutput", inputOrOutput, len(gradOutput)); err != nil {
		return 0, err
	}
	if err := checkLen(op, "gradInput", gradInput, len(gradOutput)); err != nil {
		return 0, err
	}
	if err := checkLen(op, "invStd", invStd, rows); err != nil {
		return 0, err
	}
	if (gamma == nil) != (gradGamma == nil) {
		return 0, shapeErrorf(op, "gradGamma must be set exactly when gamma is set")
	}
	if gamma != nil {
		if err := checkLen(op, "gamma", gamma, normSize); err != nil {
			return 0, err
		}
		if err := checkLen(op, "gradGamma", gradGamma, normSize); err != nil {
			return 0, err
		}
	}
	return rows, nil
}
