// Package tensorc compiles systems of tensor equations written in Einstein
// index notation into flat programs that evaluate every output component at
// many spatial points.
//
// A model declares tensors over an N-dimensional space and equations such as
//
//	sigma(i, j) = 2 * mu * symmetrize(D(u(i), j)) + lambda * delta(i, j) * D(u(k), k)
//
// tensorc expands the derivatives symbolically, simplifies the result,
// optionally scalarizes it into one tree per output component and flattens
// every tree into a postorder CSR layout with statically assigned storage.
// The runtime evaluates those trees with one point at a time or with a
// lane-batched frame that computes several adjacent points per pass.
//
// # Architecture Overview
//
//   - core: index algebra, coordinates, alignment helpers
//   - expr: tensors, expression nodes and the builder DSL
//   - model: systems, the scalar catalog, serialized trees and programs
//   - compiler: differentiation, simplification, scalarization,
//     serialization and the YAML model format
//   - kernels: per-node evaluation plans and width-generic kernels
//   - runtime: the evaluation engine, arenas and parallel evaluation
//   - cache: a BadgerDB-backed store of compiled programs
//   - logging: slog configuration shared by the command-line tool
//   - cmd/tensorc: the compile, run, perf and version commands
//
// # Basic Usage
//
//	tensorc compile heat.yaml -o heat.tnsr
//	tensorc run heat.tnsr --points 100000 --constant kappa=0.1
//
// or from Go:
//
//	m, err := compiler.LoadModel("heat.yaml")
//	prog, err := compiler.Compile(ctx, m.System, compiler.DefaultOptions())
//	engine, err := runtime.NewEngine(prog, nil)
//	constants, err := engine.MapConstants(m.Bindings()...)
//	err = engine.EvaluateParallel(ctx, n, out, scalars, constants)
package tensorc
