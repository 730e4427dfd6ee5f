// Package ops implements the operator library: concrete computation nodes
// satisfying the node.Node capability contract. Base carries the state and
// behavior every operator shares (buffers, layout linkage, timestamps,
// masking); each operator type embeds it and supplies shape inference,
// forward propagation and the gradient rule for its children.
package ops
