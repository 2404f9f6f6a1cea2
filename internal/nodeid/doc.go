/*
Package nodeid provides a structured representation for qualified module
attribute names, the names under which parameters, interned constants and
submodules are stored on a traced graph module.

The format is a dot-separated sequence of segments, e.g. `layers.0.weight`
or `blocks[1].proj.bias`.

Graph nodes cannot carry dots in their names, so Identifier flattens an
address into `layers_0_weight` for get_attr nodes.
*/
package nodeid
