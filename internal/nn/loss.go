package nn

import (
	"fmt"
	"math"

	"github.com/born-ml/mriscan/internal/tensor"
)

// SoftmaxCrossEntropy computes the mean categorical cross-entropy between
// softmax(logits) and one-hot targets, both [batch, classes].
//
// It returns the loss and its gradient with respect to the logits:
//
//	grad = (softmax(logits) - targets) / batch
func SoftmaxCrossEntropy(logits, targets *tensor.Tensor) (float64, *tensor.Tensor) {
	if !logits.Shape().Equal(targets.Shape()) || len(logits.Shape()) != 2 {
		panic(fmt.Sprintf("cross entropy: logits %v and targets %v must both be [batch, classes]", logits.Shape(), targets.Shape()))
	}
	N, K := logits.Dim(0), logits.Dim(1)
	grad := Softmax(logits)
	g, y := grad.Data(), targets.Data()

	var loss float64
	inv := 1 / float32(N)
	for n := 0; n < N; n++ {
		row := logits.Data()[n*K : (n+1)*K]
		lse := logSumExp(row)
		for k := 0; k < K; k++ {
			i := n*K + k
			if y[i] != 0 {
				loss -= float64(y[i]) * (float64(row[k]) - lse)
			}
			g[i] = (g[i] - y[i]) * inv
		}
	}
	return loss / float64(N), grad
}

// Softmax applies a numerically stable softmax to each row of [batch, classes].
func Softmax(logits *tensor.Tensor) *tensor.Tensor {
	N, K := logits.Dim(0), logits.Dim(1)
	out := tensor.Zeros(logits.Shape())
	in, o := logits.Data(), out.Data()
	for n := 0; n < N; n++ {
		row := in[n*K : (n+1)*K]
		m := row[0]
		for _, v := range row[1:] {
			if v > m {
				m = v
			}
		}
		var sum float64
		for k, v := range row {
			e := math.Exp(float64(v - m))
			o[n*K+k] = float32(e)
			sum += e
		}
		for k := 0; k < K; k++ {
			o[n*K+k] = float32(float64(o[n*K+k]) / sum)
		}
	}
	return out
}

func logSumExp(row []float32) float64 {
	m := float64(row[0])
	for _, v := range row[1:] {
		m = math.Max(m, float64(v))
	}
	var sum float64
	for _, v := range row {
		sum += math.Exp(float64(v) - m)
	}
	return m + math.Log(sum)
}

// Argmax returns the index of the largest value, preferring the lowest
// index on ties.
func Argmax(row []float32) int {
	best := 0
	for i, v := range row {
		if v > row[best] {
			best = i
		}
	}
	return best
}

// Accuracy returns the number of rows whose argmax matches the target argmax.
func Accuracy(logits, targets *tensor.Tensor) int {
	N, K := logits.Dim(0), logits.Dim(1)
	correct := 0
	for n := 0; n < N; n++ {
		if Argmax(logits.Data()[n*K:(n+1)*K]) == Argmax(targets.Data()[n*K:(n+1)*K]) {
			correct++
		}
	}
	return correct
}

// OneHot encodes class indices as a [len(labels), classes] tensor.
func OneHot(labels []int, classes int) *tensor.Tensor {
	out := tensor.Zeros(tensor.Shape{len(labels), classes})
	for i, l := range labels {
		if l < 0 || l >= classes {
			panic(fmt.Sprintf("one-hot: label %d out of range [0, %d)", l, classes))
		}
		out.Data()[i*classes+l] = 1
	}
	return out
}
