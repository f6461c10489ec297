// Package pchip builds and evaluates monotone-aware piecewise cubic Hermite
// interpolants for a single measurement axis. Builds optionally project the
// data onto a non-decreasing sequence, blend it towards a linear trend and
// scale the tangents to add tension.
package pchip
