// Copyright 2026 go-layernorm Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Command lnormbench measures the normalization kernels on a synthetic
// batch and reports per-pass latency and effective bandwidth.
//
// Usage:
//
//	lnormbench -n1 4096 -n2 1024 -dtype f32 -op forward
//	lnormbench -n1 16384 -n2 4096 -dtype f16 -op backward -memeff
//	lnormbench -norm rmsnorm -op both -workers 8
package main

import (
	"flag"
	"fmt"
	"math/rand"
	"os"
	"runtime"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/ajroetker/go-layernorm/lnorm"
	"github.com/ajroetker/go-layernorm/lnorm/half"
	"github.com/ajroetker/go-layernorm/lnorm/rowpool"
	"github.com/ajroetker/go-layernorm/lnorm/welford"
)

var (
	n1      = flag.Int("n1", 4096, "Rows in the batch (batch * sequence length)")
	n2      = flag.Int("n2", 1024, "Normalized span per row")
	dtype   = flag.String("dtype", "f32", "Element type: f32, f64 or f16")
	op      = flag.String("op", "both", "Pass to measure: forward, backward or both")
	norm    = flag.String("norm", "layernorm", "Kernel family: layernorm or rmsnorm")
	memEff  = flag.Bool("memeff", false, "Use the memory-efficient backward")
	iters   = flag.Int("iters", 50, "Timed iterations per measurement")
	workers = flag.Int("workers", runtime.NumCPU(), "Worker goroutines; 0 runs sequentially")
	eps     = flag.Float64("eps", 1e-5, "Variance epsilon")
)

func main() {
	flag.Parse()

	if *n1 <= 0 || *n2 <= 0 {
		fmt.Fprintf(os.Stderr, "Error: -n1 and -n2 must be positive\n")
		os.Exit(1)
	}
	if *op != "forward" && *op != "backward" && *op != "both" {
		fmt.Fprintf(os.Stderr, "Error: unknown -op %q (want forward, backward or both)\n", *op)
		os.Exit(1)
	}
	if *norm != "layernorm" && *norm != "rmsnorm" {
		fmt.Fprintf(os.Stderr, "Error: unknown -norm %q (want layernorm or rmsnorm)\n", *norm)
		os.Exit(1)
	}
	var elemSize, statSize int
	switch *dtype {
	case "f32":
		elemSize, statSize = 4, 4
	case "f64":
		elemSize, statSize = 8, 8
	case "f16":
		elemSize, statSize = 2, 4
	default:
		fmt.Fprintf(os.Stderr, "Error: unknown -dtype %q (want f32, f64 or f16)\n", *dtype)
		os.Exit(1)
	}

	p := message.NewPrinter(language.English)
	p.Printf("lnormbench: %s %s, batch %d x %d (%d elements)\n", *dtype, *norm, *n1, *n2, (*n1)*(*n2))
	p.Printf("workers: %d, paired Float16 loads: %v\n", *workers, half.Packed())

	stdB, effB := lnorm.MemoryEfficientSavings(*n1, *n2, elemSize, statSize)
	p.Printf("held between passes: standard %d bytes, memory-efficient %d bytes (%.0fx)\n\n",
		stdB, effB, float64(stdB)/float64(effB))

	var pool *rowpool.Pool
	if *workers > 0 && *dtype != "f16" {
		pool = rowpool.New(*workers)
		defer pool.Close()
	}

	switch *dtype {
	case "f32":
		runFloat[float32](p, pool, elemSize)
	case "f64":
		runFloat[float64](p, pool, elemSize)
	case "f16":
		runF16(p)
	}
}

// measure times fn over the configured iterations after one warm-up pass.
func measure(p *message.Printer, name string, bytesPerPass int64, fn func()) {
	fn()
	start := time.Now()
	for i := 0; i < *iters; i++ {
		fn()
	}
	perPass := time.Since(start) / time.Duration(*iters)
	gbs := float64(bytesPerPass) / perPass.Seconds() / 1e9
	p.Printf("%-32s %12v/pass %8.2f GB/s\n", name, perPass.Round(time.Microsecond), gbs)
}

func fail(err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runFloat[F welford.Floats](p *message.Printer, pool *rowpool.Pool, elemSize int) {
	rows, normSize := *n1, *n2
	size := rows * normSize

	input := make([]F, size)
	output := make([]F, size)
	dout := make([]F, size)
	gradInput := make([]F, size)
	gamma := make([]F, normSize)
	beta := make([]F, normSize)
	gradGamma := make([]F, normSize)
	gradBeta := make([]F, normSize)
	mean := make([]F, rows)
	invStd := make([]F, rows)

	rng := rand.New(rand.NewSource(1))
	for i := range input {
		input[i] = F(rng.NormFloat64())
		dout[i] = F(rng.NormFloat64())
	}
	for i := range gamma {
		gamma[i] = 1
	}

	doForward := func() {
		if *norm == "rmsnorm" {
			fail(lnorm.ParallelRMSNormForward(pool, input, output, normSize, gamma, *eps, invStd))
		} else {
			fail(lnorm.ParallelLayerNormForward(pool, input, output, normSize, gamma, beta, *eps, mean, invStd))
		}
	}

	h := input
	meanArg := mean
	if *memEff {
		h = output
		meanArg = nil
	}
	backName := *norm + " backward"
	if *memEff {
		backName += " (memEff)"
	}
	doBackward := func() {
		if *norm == "rmsnorm" {
			fail(lnorm.ParallelRMSNormBackward(pool, dout, h, normSize, invStd,
				gamma, *eps, *memEff, gradInput, gradGamma))
		} else {
			fail(lnorm.ParallelLayerNormBackward(pool, dout, h, normSize, meanArg, invStd,
				gamma, beta, *eps, *memEff, gradInput, gradGamma, gradBeta))
		}
	}

	// Forward touches two element streams; backward touches three for the
	// input gradient and re-reads two for the parameter gradients.
	fwdBytes := 2 * int64(size) * int64(elemSize)
	bwdBytes := 5 * int64(size) * int64(elemSize)

	if *op == "forward" || *op == "both" {
		measure(p, *norm+" forward", fwdBytes, doForward)
	}
	if *op == "backward" || *op == "both" {
		doForward()
		measure(p, backName, bwdBytes, doBackward)
	}
}

func runF16(p *message.Printer) {
	rows, normSize := *n1, *n2
	size := rows * normSize

	input := make([]half.Float16, size)
	output := make([]half.Float16, size)
	dout := make([]half.Float16, size)
	gradInput := make([]half.Float16, size)
	gamma := make([]half.Float16, normSize)
	beta := make([]half.Float16, normSize)
	gradGamma := make([]half.Float16, normSize)
	gradBeta := make([]half.Float16, normSize)
	mean := make([]float32, rows)
	invStd := make([]float32, rows)

	rng := rand.New(rand.NewSource(1))
	for i := range input {
		input[i] = half.FromFloat32(float32(rng.NormFloat64()))
		dout[i] = half.FromFloat32(float32(rng.NormFloat64()))
	}
	for i := range gamma {
		gamma[i] = half.One
	}

	doForward := func() {
		if *norm == "rmsnorm" {
			fail(lnorm.RMSNormForwardF16(input, output, normSize, gamma, *eps, invStd))
		} else {
			fail(lnorm.LayerNormForwardF16(input, output, normSize, gamma, beta, *eps, mean, invStd))
		}
	}

	h := input
	meanArg := mean
	if *memEff {
		h = output
		meanArg = nil
	}
	backName := *norm + " backward"
	if *memEff {
		backName += " (memEff)"
	}
	doBackward := func() {
		if *norm == "rmsnorm" {
			fail(lnorm.RMSNormBackwardF16(dout, h, normSize, invStd,
				gamma, *eps, *memEff, gradInput, gradGamma))
		} else {
			fail(lnorm.LayerNormBackwardF16(dout, h, normSize, meanArg, invStd,
				gamma, beta, *eps, *memEff, gradInput, gradGamma, gradBeta))
		}
	}

	fwdBytes := 2 * int64(size) * 2
	bwdBytes := 5 * int64(size) * 2

	if *op == "forward" || *op == "both" {
		measure(p, *norm+" forward", fwdBytes, doForward)
	}
	if *op == "backward" || *op == "both" {
		doForward()
		measure(p, backName, bwdBytes, doBackward)
	}
}
