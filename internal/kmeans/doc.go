// Package kmeans implements k-means clustering for quantization training.
//
// Used internally by Product Quantization (PQ) and Optimized PQ (OPQ)
// to learn codebooks from training data.
package kmeans
