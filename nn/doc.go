// Package nn contains the trainable building blocks of the classifiers:
// parameters with gradient buffers, a linear layer, inverted dropout, the
// binary and categorical cross-entropy losses, and the Adam optimizer.
//
// Layers do not build a graph. Each Forward returns whatever its Backward
// needs, and callers chain the backward calls in reverse order.
package nn
