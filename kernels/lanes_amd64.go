//go:build amd64

package kernels

// Lanes is the number of points a batched frame evaluates at once. Four
// float64 values fill one AVX2 register.
const Lanes = 4
