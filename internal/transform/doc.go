// Package transform implements the two-pass raster statistic transforms.
// Quantiles replaces each valid cell with its fractional rank (or a rank
// class); ZScores replaces it with its standardized deviation. Both read
// the input twice through a pipeline.Runner: once to finalize statistics,
// once to write the output.
package transform
