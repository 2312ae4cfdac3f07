// Package nn provides the numeric building blocks used by the style transfer
// engine: a dense float32 tensor, 2D convolution and max-pooling with
// hand-written backward passes, first-order optimizers, learning rate
// schedules and a safetensors reader for pre-trained weights.
//
// Image and activation tensors use the [batch, height, width, channels]
// layout (NHWC, row-major) with batch fixed at 1. Convolution kernels are
// stored as [kernelH][kernelW][inChannels][filters] (HWIO), the layout most
// exported VGG checkpoints use.
//
// Only gradients with respect to layer inputs are computed: the feature
// network is frozen and the optimised parameter is the image itself.
//
// Example usage:
//
//	conv := nn.InitConv2D(3, 64, 3, 1, 1, nn.ActivationReLU, rng)
//	pre, post, _ := conv.Forward(img)
//	gradIn, _ := conv.BackwardInput(gradOut, pre, img.Shape)
//
//	opt := nn.NewAdamOptimizerDefault()
//	opt.Step(img, gradIn, 0.7)
package nn
