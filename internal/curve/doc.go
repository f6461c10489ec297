// Package curve turns raw fan measurements into the unified four-direction
// performance model (rpm→airflow, rpm→noise, noise→rpm, noise→airflow) and
// computes the fingerprints that decide whether a cached model is still
// valid.
package curve
