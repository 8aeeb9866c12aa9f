//go:build !amd64

package kernels

// Lanes is the number of points a batched frame evaluates at once. Two
// float64 values fill one NEON or SSE2 register.
const Lanes = 2
