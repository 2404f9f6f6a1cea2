// Package nn provides modules with parameters: Linear layers, activations
// and the Sequential container. They are ordinary fx.Modules, so a model
// built from them can be traced with its parameters recorded as get_attr
// nodes named after their paths.
package nn
