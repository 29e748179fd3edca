// Package haspeede fine-tunes small transformer-style classifiers for hate
// speech detection, stereotype detection and nominal utterance span tagging
// on the HaSpeeDe 2, HatEval and German refugee corpora.
//
// # Layout
//
//   - corpus, preprocessing: read the corpora and normalize tweets
//   - tokenizer, dataset: WordPiece ids, padding masks and batch loaders
//   - encoder, classifier, nn: the per-language encoder and the task heads
//   - training: the epoch loop, early stopping and callbacks
//   - gridsearch: the seed × batch size × dropout search
//   - experiment, config: per-task wiring from an experiment file
//   - report, store: tables, plots and the SQLite run store
//
// # Quick Start
//
// Search the grid of the Italian hate speech task, then fit the final
// configuration and evaluate it on the official test sets:
//
//	haspeede search --task it-hs --data-dir ./data
//	haspeede train  --task it-hs --data-dir ./data
//
// The same steps from Go:
//
//	exp, _ := config.Default(config.TaskItalianHS)
//	setup, _ := experiment.New(exp, experiment.WithDataDir("./data"))
//	if err := setup.Load(); err != nil {
//	    log.Fatal(err)
//	}
//	trainer, _ := setup.NewTrainer(exp.MaxEpochs)
//	driver, _ := gridsearch.NewDriver(exp.Grid, trainer, setup.Data(), setup.ModelFactory())
//	results, err := driver.Run(ctx, repro.New(repro.CPU, 0))
//
// Every random draw goes through a repro.Context, so a search is
// reproducible given its seeds.
package haspeede
