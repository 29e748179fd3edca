// Package preprocessing normalizes raw corpus text and partitions labelled
// data into train, validation and test splits.
//
// Text normalization is a pipeline of string rules followed by token rules:
//
//	n := preprocessing.NewNormalizer(corpus.Italian)
//	clean := n.Apply("@utente Guarda URL questo!!")  // "guarda"
//
// Splits draw from an explicit *rand.Rand, usually a repro.Context stream, so
// the same seed always yields the same partition.
package preprocessing
