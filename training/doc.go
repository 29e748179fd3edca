// Package training fits a model.Module: one gradient pass per epoch over a
// shuffled loader, an inference-only evaluation pass, and an early-stopping
// monitor on the validation loss deciding when to halt.
//
//	trainer := training.NewTrainer(training.BinaryTask{PosWeight: 1.5},
//	    training.WithMaxEpochs(20),
//	    training.WithLogger(logger),
//	)
//	history, err := trainer.Fit(ctx, clf, nn.NewAdam(1e-5), trainLoader, valLoader)
package training
