package nn

// MeanBGR holds the ImageNet channel means, in B, G, R order, subtracted from
// 0..255 pixel values before they enter a VGG network.
var MeanBGR = [3]float32{103.939, 116.779, 123.68}

// ClipPixels clamps a preprocessed BGR image in place to the range a real
// 8-bit image can take, [-mean, 255-mean] per channel.
func ClipPixels(t *Tensor) {
	if len(t.Shape) != 4 || t.Shape[3] != 3 {
		return
	}
	for i, v := range t.Data {
		c := i % 3
		lo, hi := -MeanBGR[c], 255-MeanBGR[c]
		if v < lo {
			t.Data[i] = lo
		} else if v > hi {
			t.Data[i] = hi
		}
	}
}
