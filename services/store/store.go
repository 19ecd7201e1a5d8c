package main

import (
	"context"
	"net/http"
	"os"
	"strings"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/joeshaw/envdecode"
	"github.com/sirupsen/logrus"

	"github.com/relabs-tech/melone/core"
	"github.com/relabs-tech/melone/core/docdb"
	"github.com/relabs-tech/melone/core/logger"
	"github.com/relabs-tech/melone/core/notify"
	"github.com/relabs-tech/melone/core/store"
	"github.com/relabs-tech/melone/core/store/blobs"
)

var configurationJSON string = `
{
	"types": {
		"core/user": {
			"body": {
				"name": {"type": "string"},
				"email": {"type": "string"},
				"groups": {
					"relationship": {
						"arity": "auto",
						"pred-type": ["core/group"],
						"pred-relationship": "members"
					}
				}
			}
		},
		"core/group": {
			"body": {
				"name": {"type": "string"},
				"members": {
					"relationship": {
						"arity": "to-many",
						"targets": ["core/user"]
					}
				}
			}
		},
		"core/folder": {
			"body": {
				"name": {"type": "string"},
				"contents": {
					"relationship": {
						"arity": "keyed"
					}
				},
				"parent": {
					"relationship": {
						"arity": "to-one",
						"targets": ["core/folder"]
					}
				}
			},
			"optional": ["parent"]
		},
		"core/file": {
			"body": {
				"name": {"type": "string"},
				"content": {
					"upload": {
						"acceptable": ["text/plain", "application/pdf", "image/png", "image/jpeg"]
					}
				}
			}
		}
	}
}
`

// Service holds the configuration for this service
//
// use MONGODB="mongodb://localhost:27017"
type Service struct {
	Mongodb         string `env:"MONGODB,required" description:"the connection string for the MongoDB server"`
	MongodbDatabase string `env:"MONGODB_DATABASE,default=melone" description:"the database name"`
	Port            string `env:"PORT,default=3000" description:"the port to listen on"`
	BaseURL         string `env:"BASE_URL,default=" description:"the public base URL of this service"`
	BlobDir         string `env:"BLOB_DIR,default=" description:"directory for local blob storage"`
	KafkaBrokers    string `env:"KAFKA_BROKERS,default=" description:"comma separated Kafka brokers for notifications"`
	KafkaTopic      string `env:"KAFKA_TOPIC,default=melone-notifications" description:"the Kafka topic for notifications"`
	LogLevel        string `env:"LOG_LEVEL,default=info" description:"the log level"`
}

func main() {
	service := &Service{}
	if err := envdecode.Decode(service); err != nil {
		panic(err)
	}

	level, err := logrus.ParseLevel(service.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.InitLogger(level)

	ctx := context.Background()
	db, err := docdb.OpenMongo(ctx, service.Mongodb, service.MongodbDatabase)
	if err != nil {
		panic(err)
	}
	defer db.Close(ctx)

	var blobDriver blobs.Driver
	var s3Config blobs.S3Configuration
	if err := envdecode.Decode(&s3Config); err == nil && s3Config.AWSBucketName != "" {
		blobDriver, err = blobs.NewS3(s3Config)
		if err != nil {
			panic(err)
		}
	} else if service.BlobDir != "" {
		blobDriver, err = blobs.NewLocal(service.BlobDir)
		if err != nil {
			panic(err)
		}
	} else {
		blobDriver, err = blobs.NewLocal(os.TempDir() + "/melone-blobs")
		if err != nil {
			panic(err)
		}
	}

	var notifier core.Notifier
	if service.KafkaBrokers != "" {
		kafkaNotifier := notify.NewKafka(strings.Split(service.KafkaBrokers, ","), service.KafkaTopic)
		defer kafkaNotifier.Close()
		notifier = kafkaNotifier
	}

	router := mux.NewRouter()
	logger.AddRequestID(router)
	store.MustNew(&store.Builder{
		Config:     configurationJSON,
		DB:         db,
		Router:     router,
		Notifier:   notifier,
		BlobDriver: blobDriver,
		BaseURL:    service.BaseURL,
		EnableCORS: true,
	})

	logger.Default().Infoln("listen on port :" + service.Port)
	http.ListenAndServe(":"+service.Port, handlers.CompressHandler(router))
}
