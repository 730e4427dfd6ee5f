// Package netdef loads network descriptions from HCL files and builds the
// corresponding computation network.
//
// A description declares leaf nodes (input, parameter blocks), function
// nodes (node blocks), delayed reads (delay blocks) and training criteria
// (criterion blocks). Loading is split in two stages: the loader parses the
// HCL into a format-agnostic Model, and the builder turns a Model into a
// wired engine.Network.
package netdef
