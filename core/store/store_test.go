package store

import (
	"os"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/relabs-tech/melone/core"
	"github.com/relabs-tech/melone/core/client"
	"github.com/relabs-tech/melone/core/docdb"
	"github.com/relabs-tech/melone/core/store/blobs"
)

var configurationJSON string = `{
	"types": {
		"user": {
			"body": {
				"name": {"type": "string"},
				"memberships": {
					"relationship": {
						"arity": "auto",
						"pred-type": ["group"],
						"pred-relationship": "members"
					}
				}
			}
		},
		"task": {
			"body": {
				"name": {"type": "string"},
				"priority": {"type": "integer", "minimum": 0},
				"owner": {
					"relationship": {
						"arity": "to-one",
						"targets": ["user"]
					}
				}
			},
			"optional": ["priority"]
		},
		"group": {
			"body": {
				"name": {"type": "string"},
				"members": {
					"relationship": {
						"arity": "to-many",
						"targets": ["user"]
					}
				}
			}
		},
		"folder": {
			"body": {
				"name": {"type": "string"},
				"contents": {
					"relationship": {
						"arity": "keyed"
					}
				}
			}
		},
		"profile": {
			"body": {
				"nickname": {"type": "string"},
				"avatar": {
					"upload": {
						"acceptable": ["image/png"]
					}
				}
			}
		}
	}
}`

// testNotifier records notifications for assertions.
type testNotifier struct {
	mu            sync.Mutex
	notifications []testNotification
}

type testNotification struct {
	resource  string
	operation core.Operation
	payload   []byte
}

func (n *testNotifier) Notify(resource string, operation core.Operation, payload []byte) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notifications = append(n.notifications, testNotification{resource, operation, payload})
}

func (n *testNotifier) reset() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notifications = nil
}

func (n *testNotifier) all() []testNotification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]testNotification{}, n.notifications...)
}

type testServiceType struct {
	store    *Store
	client   client.Client
	notifier *testNotifier
	blobDir  string
}

var testService testServiceType

func TestMain(m *testing.M) {
	blobDir, err := os.MkdirTemp("", "melone-blobs-*")
	if err != nil {
		panic(err)
	}
	defer os.RemoveAll(blobDir)

	blobDriver, err := blobs.NewLocal(blobDir)
	if err != nil {
		panic(err)
	}

	router := mux.NewRouter()
	testService.notifier = &testNotifier{}
	testService.store = MustNew(&Builder{
		Config:     configurationJSON,
		DB:         docdb.NewMemory(),
		Router:     router,
		Notifier:   testService.notifier,
		BlobDriver: blobDriver,
	})
	testService.client = client.NewWithRouter(router)
	testService.blobDir = blobDir

	code := m.Run()
	os.Exit(code)
}

type link struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Href string `json:"href"`
}

type resource struct {
	Data struct {
		ID   string                 `json:"id"`
		Href string                 `json:"href"`
		Type string                 `json:"type"`
		Body map[string]interface{} `json:"body"`
		Meta map[string]interface{} `json:"meta"`
	} `json:"data"`
}

func createResource(t *testing.T, typeName string, body map[string]interface{}) resource {
	t.Helper()
	var res resource
	_, err := testService.client.RawPost("/api/store/resources", map[string]interface{}{
		"data": map[string]interface{}{"type": typeName, "body": body},
	}, &res)
	require.NoError(t, err)
	require.NotEmpty(t, res.Data.ID)
	return res
}

func createUser(t *testing.T, name string) resource {
	t.Helper()
	return createResource(t, "user", map[string]interface{}{"name": name})
}

func relationshipData(t *testing.T, body map[string]interface{}, key string) interface{} {
	t.Helper()
	rel, ok := body[key].(map[string]interface{})
	require.True(t, ok, "relationship %s not rendered as object", key)
	return rel["data"]
}

func TestCreateRoundTrip(t *testing.T) {
	user := createUser(t, "ada")
	task := createResource(t, "task", map[string]interface{}{
		"name":  "write report",
		"owner": map[string]interface{}{"data": map[string]interface{}{"id": user.Data.ID}},
	})

	assert.Equal(t, "task", task.Data.Type)
	assert.Equal(t, "write report", task.Data.Body["name"])
	assert.Contains(t, task.Data.Href, task.Data.ID)
	assert.NotEmpty(t, task.Data.Meta["created"])
	assert.NotEmpty(t, task.Data.Meta["last-modified"])

	owner := relationshipData(t, task.Data.Body, "owner").(map[string]interface{})
	assert.Equal(t, user.Data.ID, owner["id"])
	assert.Equal(t, "user", owner["type"])

	var read resource
	_, err := testService.client.RawGet("/api/store/resources/"+task.Data.ID, &read)
	require.NoError(t, err)
	assert.Equal(t, task.Data.Body["name"], read.Data.Body["name"])
}

func TestCreateUnknownType(t *testing.T) {
	status, err := testService.client.RawPost("/api/store/resources", map[string]interface{}{
		"data": map[string]interface{}{"type": "nonsense", "body": map[string]interface{}{}},
	}, nil)
	assert.Equal(t, 400, status)
	assert.Contains(t, err.Error(), "NO_TYPE")
}

func TestCreateRequiredFieldMissing(t *testing.T) {
	status, err := testService.client.RawPost("/api/store/resources", map[string]interface{}{
		"data": map[string]interface{}{"type": "task", "body": map[string]interface{}{
			"name": "orphan",
		}},
	}, nil)
	assert.Equal(t, 400, status)
	assert.Contains(t, err.Error(), "BAD_ITEM")
	assert.Contains(t, err.Error(), "missing from body")
}

func TestCreateOptionalFieldMissing(t *testing.T) {
	user := createUser(t, "grace")
	task := createResource(t, "task", map[string]interface{}{
		"name":  "no priority",
		"owner": map[string]interface{}{"data": map[string]interface{}{"id": user.Data.ID}},
	})
	_, hasPriority := task.Data.Body["priority"].(float64)
	assert.False(t, hasPriority)
}

func TestCreateUnknownField(t *testing.T) {
	status, err := testService.client.RawPost("/api/store/resources", map[string]interface{}{
		"data": map[string]interface{}{"type": "user", "body": map[string]interface{}{
			"name":     "ok",
			"nonsense": 42,
		}},
	}, nil)
	assert.Equal(t, 400, status)
	assert.Contains(t, err.Error(), "NO_ITEM")
}

func TestCreateBadAttribute(t *testing.T) {
	user := createUser(t, "carol")
	status, err := testService.client.RawPost("/api/store/resources", map[string]interface{}{
		"data": map[string]interface{}{"type": "task", "body": map[string]interface{}{
			"name":     "negative",
			"priority": -1,
			"owner":    map[string]interface{}{"data": map[string]interface{}{"id": user.Data.ID}},
		}},
	}, nil)
	assert.Equal(t, 400, status)
	assert.Contains(t, err.Error(), "BAD_ATTRIBUTE")
}

func TestRelationshipTypeMembership(t *testing.T) {
	user := createUser(t, "dan")
	task := createResource(t, "task", map[string]interface{}{
		"name":  "not a user",
		"owner": map[string]interface{}{"data": map[string]interface{}{"id": user.Data.ID}},
	})

	// a task is not an allowed member type
	status, err := testService.client.RawPost("/api/store/resources", map[string]interface{}{
		"data": map[string]interface{}{"type": "group", "body": map[string]interface{}{
			"name": "bad",
			"members": map[string]interface{}{"data": []interface{}{
				map[string]interface{}{"id": task.Data.ID},
			}},
		}},
	}, nil)
	assert.Equal(t, 400, status)
	assert.Contains(t, err.Error(), "BAD_RELATIONSHIP")
	assert.Contains(t, err.Error(), "unallowed type")

	// a user is
	group := createResource(t, "group", map[string]interface{}{
		"name": "good",
		"members": map[string]interface{}{"data": []interface{}{
			map[string]interface{}{"id": user.Data.ID},
		}},
	})
	members := relationshipData(t, group.Data.Body, "members").([]interface{})
	require.Len(t, members, 1)
	assert.Equal(t, user.Data.ID, members[0].(map[string]interface{})["id"])
}

func TestRelationshipClaimedTypeMismatch(t *testing.T) {
	user := createUser(t, "erin")
	status, err := testService.client.RawPost("/api/store/resources", map[string]interface{}{
		"data": map[string]interface{}{"type": "task", "body": map[string]interface{}{
			"name": "liar",
			"owner": map[string]interface{}{"data": map[string]interface{}{
				"id":   user.Data.ID,
				"type": "group",
			}},
		}},
	}, nil)
	assert.Equal(t, 400, status)
	assert.Contains(t, err.Error(), "mismatched type")
}

func TestRelationshipTargetDoesNotExist(t *testing.T) {
	status, err := testService.client.RawPost("/api/store/resources", map[string]interface{}{
		"data": map[string]interface{}{"type": "task", "body": map[string]interface{}{
			"name": "ghost owner",
			"owner": map[string]interface{}{"data": map[string]interface{}{
				"id": uuid.New().String(),
			}},
		}},
	}, nil)
	assert.Equal(t, 400, status)
	assert.Contains(t, err.Error(), "does not exist")
}

func TestAppendSetSemantics(t *testing.T) {
	user := createUser(t, "frank")
	group := createResource(t, "group", map[string]interface{}{
		"name":    "club",
		"members": map[string]interface{}{"data": []interface{}{}},
	})
	path := "/api/store/resources/" + group.Data.ID + "/members"
	appendBody := map[string]interface{}{"data": []interface{}{
		map[string]interface{}{"id": user.Data.ID},
	}}

	var rendered map[string]interface{}
	_, err := testService.client.RawPost(path, appendBody, &rendered)
	require.NoError(t, err)
	_, err = testService.client.RawPost(path, appendBody, &rendered)
	require.NoError(t, err)

	members := rendered["data"].([]interface{})
	assert.Len(t, members, 1)
	assert.Equal(t, user.Data.ID, members[0].(map[string]interface{})["id"])
}

func TestTolerantRemove(t *testing.T) {
	user := createUser(t, "gabi")
	group := createResource(t, "group", map[string]interface{}{
		"name": "quiet",
		"members": map[string]interface{}{"data": []interface{}{
			map[string]interface{}{"id": user.Data.ID},
		}},
	})
	path := "/api/store/resources/" + group.Data.ID + "/members"

	// this id was never a member
	var rendered map[string]interface{}
	_, err := testService.client.RawDelete(path, map[string]interface{}{"data": []interface{}{
		map[string]interface{}{"id": uuid.New().String()},
	}}, &rendered)
	require.NoError(t, err)
	assert.Len(t, rendered["data"].([]interface{}), 1)
}

func TestAppendOnNonCollection(t *testing.T) {
	user := createUser(t, "hana")
	task := createResource(t, "task", map[string]interface{}{
		"name":  "solid",
		"owner": map[string]interface{}{"data": map[string]interface{}{"id": user.Data.ID}},
	})
	status, err := testService.client.RawPost(
		"/api/store/resources/"+task.Data.ID+"/owner",
		map[string]interface{}{"data": []interface{}{
			map[string]interface{}{"id": user.Data.ID},
		}}, nil)
	assert.Equal(t, 400, status)
	assert.Contains(t, err.Error(), "BAD_ITEM")
}

func TestAutoRelationshipIsReadOnly(t *testing.T) {
	status, err := testService.client.RawPost("/api/store/resources", map[string]interface{}{
		"data": map[string]interface{}{"type": "user", "body": map[string]interface{}{
			"name":        "ines",
			"memberships": map[string]interface{}{"data": []interface{}{}},
		}},
	}, nil)
	assert.Equal(t, 400, status)
	assert.Contains(t, err.Error(), "cannot write automatic relationship")

	user := createUser(t, "ines")
	status, err = testService.client.RawPut(
		"/api/store/resources/"+user.Data.ID+"/memberships",
		map[string]interface{}{"data": []interface{}{}}, nil)
	assert.Equal(t, 400, status)
	assert.Contains(t, err.Error(), "BAD_RELATIONSHIP")
}

func TestAutoRelationshipRender(t *testing.T) {
	user := createUser(t, "jon")
	group := createResource(t, "group", map[string]interface{}{
		"name": "band",
		"members": map[string]interface{}{"data": []interface{}{
			map[string]interface{}{"id": user.Data.ID},
		}},
	})

	var rendered map[string]interface{}
	_, err := testService.client.RawGet(
		"/api/store/resources/"+user.Data.ID+"/memberships", &rendered)
	require.NoError(t, err)
	memberships := rendered["data"].([]interface{})
	require.Len(t, memberships, 1)
	entry := memberships[0].(map[string]interface{})
	assert.Equal(t, group.Data.ID, entry["id"])
	assert.Equal(t, "group", entry["type"])
}

func TestKeyedRelationship(t *testing.T) {
	user := createUser(t, "kim")
	folder := createResource(t, "folder", map[string]interface{}{
		"name":     "home",
		"contents": map[string]interface{}{"data": map[string]interface{}{}},
	})
	path := "/api/store/resources/" + folder.Data.ID + "/contents"

	var rendered map[string]interface{}
	_, err := testService.client.RawPost(path, map[string]interface{}{
		"data": map[string]interface{}{
			"docs": map[string]interface{}{"id": user.Data.ID},
		},
	}, &rendered)
	require.NoError(t, err)
	contents := rendered["data"].(map[string]interface{})
	require.Contains(t, contents, "docs")
	assert.Equal(t, user.Data.ID, contents["docs"].(map[string]interface{})["id"])

	// removal is by key
	_, err = testService.client.RawDelete(path, map[string]interface{}{
		"data": map[string]interface{}{
			"docs": map[string]interface{}{"id": user.Data.ID},
		},
	}, &rendered)
	require.NoError(t, err)
	assert.NotContains(t, rendered["data"].(map[string]interface{}), "docs")
}

func TestUpdateAttribute(t *testing.T) {
	user := createUser(t, "lena")
	var updated resource
	_, err := testService.client.RawPatch("/api/store/resources/"+user.Data.ID,
		map[string]interface{}{"data": map[string]interface{}{"body": map[string]interface{}{
			"name": "magda",
		}}}, &updated)
	require.NoError(t, err)
	assert.Equal(t, "magda", updated.Data.Body["name"])

	var read resource
	_, err = testService.client.RawGet("/api/store/resources/"+user.Data.ID, &read)
	require.NoError(t, err)
	assert.Equal(t, "magda", read.Data.Body["name"])
}

func TestEmptyUpdateIsNoOp(t *testing.T) {
	user := createUser(t, "nico")
	var updated resource
	status, err := testService.client.RawPatch("/api/store/resources/"+user.Data.ID,
		map[string]interface{}{"data": map[string]interface{}{"body": map[string]interface{}{}}},
		&updated)
	require.NoError(t, err)
	assert.Equal(t, 200, status)
	assert.Equal(t, "nico", updated.Data.Body["name"])
	assert.Equal(t, user.Data.Meta["last-modified"], updated.Data.Meta["last-modified"])
}

func TestUpdateCannotChangeType(t *testing.T) {
	user := createUser(t, "oda")
	status, err := testService.client.RawPatch("/api/store/resources/"+user.Data.ID,
		map[string]interface{}{"data": map[string]interface{}{
			"type": "group",
			"body": map[string]interface{}{"name": "x"},
		}}, nil)
	assert.Equal(t, 400, status)
	require.Error(t, err)
}

func TestDeleteAndDanglingToOne(t *testing.T) {
	user := createUser(t, "pia")
	task := createResource(t, "task", map[string]interface{}{
		"name":  "doomed owner",
		"owner": map[string]interface{}{"data": map[string]interface{}{"id": user.Data.ID}},
	})

	_, err := testService.client.RawDelete("/api/store/resources/"+user.Data.ID, nil, nil)
	require.NoError(t, err)

	status, _ := testService.client.RawGet("/api/store/resources/"+user.Data.ID, nil)
	assert.Equal(t, 404, status)

	// the task still renders, the dangling owner becomes null
	var read resource
	_, err = testService.client.RawGet("/api/store/resources/"+task.Data.ID, &read)
	require.NoError(t, err)
	assert.Nil(t, relationshipData(t, read.Data.Body, "owner"))
}

func TestDanglingToManyIsOmitted(t *testing.T) {
	user := createUser(t, "quentin")
	keeper := createUser(t, "rita")
	group := createResource(t, "group", map[string]interface{}{
		"name": "shrinking",
		"members": map[string]interface{}{"data": []interface{}{
			map[string]interface{}{"id": user.Data.ID},
			map[string]interface{}{"id": keeper.Data.ID},
		}},
	})

	_, err := testService.client.RawDelete("/api/store/resources/"+user.Data.ID, nil, nil)
	require.NoError(t, err)

	var read resource
	_, err = testService.client.RawGet("/api/store/resources/"+group.Data.ID, &read)
	require.NoError(t, err)
	members := relationshipData(t, read.Data.Body, "members").([]interface{})
	require.Len(t, members, 1)
	assert.Equal(t, keeper.Data.ID, members[0].(map[string]interface{})["id"])
}

func TestByType(t *testing.T) {
	created := createResource(t, "folder", map[string]interface{}{
		"name":     "listed",
		"contents": map[string]interface{}{"data": map[string]interface{}{}},
	})

	var listed struct {
		Data []link `json:"data"`
	}
	_, err := testService.client.RawGet("/api/store/by-type/folder", &listed)
	require.NoError(t, err)
	found := false
	for _, l := range listed.Data {
		assert.Equal(t, "folder", l.Type)
		assert.Contains(t, l.Href, l.ID)
		if l.ID == created.Data.ID {
			found = true
		}
	}
	assert.True(t, found)
}

func TestByTypeUnknown(t *testing.T) {
	status, err := testService.client.RawGet("/api/store/by-type/nonsense", nil)
	assert.Equal(t, 400, status)
	assert.Contains(t, err.Error(), "NO_TYPE")
}

func TestHandles(t *testing.T) {
	first := createUser(t, "selma")
	second := createUser(t, "tessa")

	var bound struct {
		Data link `json:"data"`
	}
	_, err := testService.client.RawPost("/api/store/by-handle/chief",
		map[string]interface{}{"data": map[string]interface{}{"id": first.Data.ID}}, &bound)
	require.NoError(t, err)
	assert.Equal(t, first.Data.ID, bound.Data.ID)
	assert.Equal(t, "user", bound.Data.Type)

	// POST does not overwrite
	status, err := testService.client.RawPost("/api/store/by-handle/chief",
		map[string]interface{}{"data": map[string]interface{}{"id": second.Data.ID}}, nil)
	assert.Equal(t, 409, status)
	assert.Contains(t, err.Error(), "HANDLE_EXISTS")

	// PUT does
	_, err = testService.client.RawPut("/api/store/by-handle/chief",
		map[string]interface{}{"data": map[string]interface{}{"id": second.Data.ID}}, &bound)
	require.NoError(t, err)
	assert.Equal(t, second.Data.ID, bound.Data.ID)

	_, err = testService.client.RawGet("/api/store/by-handle/chief", &bound)
	require.NoError(t, err)
	assert.Equal(t, second.Data.ID, bound.Data.ID)

	_, err = testService.client.RawDelete("/api/store/by-handle/chief", nil, nil)
	require.NoError(t, err)

	status, err = testService.client.RawGet("/api/store/by-handle/chief", nil)
	assert.Equal(t, 404, status)
	assert.Contains(t, err.Error(), "NO_HANDLE")
}

func TestHandleSurvivesResourceDelete(t *testing.T) {
	user := createUser(t, "holger")
	_, err := testService.client.RawPost("/api/store/by-handle/orphaned",
		map[string]interface{}{"data": map[string]interface{}{"id": user.Data.ID}}, nil)
	require.NoError(t, err)

	_, err = testService.client.RawDelete("/api/store/resources/"+user.Data.ID, nil, nil)
	require.NoError(t, err)

	// the handle is still bound, it just no longer resolves
	status, err := testService.client.RawGet("/api/store/by-handle/orphaned", nil)
	assert.Equal(t, 404, status)
	assert.Contains(t, err.Error(), "NO_RESOURCE")

	// it can be rebound to a live resource
	replacement := createUser(t, "heike")
	var bound struct {
		Data link `json:"data"`
	}
	_, err = testService.client.RawPut("/api/store/by-handle/orphaned",
		map[string]interface{}{"data": map[string]interface{}{"id": replacement.Data.ID}}, &bound)
	require.NoError(t, err)
	assert.Equal(t, replacement.Data.ID, bound.Data.ID)

	// and deleted explicitly
	_, err = testService.client.RawDelete("/api/store/by-handle/orphaned", nil, nil)
	require.NoError(t, err)
	status, err = testService.client.RawGet("/api/store/by-handle/orphaned", nil)
	assert.Equal(t, 404, status)
	assert.Contains(t, err.Error(), "NO_HANDLE")
}

func TestHandleToUnknownResource(t *testing.T) {
	status, err := testService.client.RawPost("/api/store/by-handle/void",
		map[string]interface{}{"data": map[string]interface{}{"id": uuid.New().String()}}, nil)
	assert.Equal(t, 404, status)
	assert.Contains(t, err.Error(), "NO_RESOURCE")
}

func TestNotifications(t *testing.T) {
	testService.notifier.reset()

	user := createUser(t, "uwe")
	_, err := testService.client.RawPatch("/api/store/resources/"+user.Data.ID,
		map[string]interface{}{"data": map[string]interface{}{"body": map[string]interface{}{
			"name": "vera",
		}}}, nil)
	require.NoError(t, err)
	_, err = testService.client.RawDelete("/api/store/resources/"+user.Data.ID, nil, nil)
	require.NoError(t, err)

	notifications := testService.notifier.all()
	require.Len(t, notifications, 3)
	assert.Equal(t, core.OperationCreate, notifications[0].operation)
	assert.Equal(t, core.OperationUpdate, notifications[1].operation)
	assert.Equal(t, core.OperationDelete, notifications[2].operation)
	for _, n := range notifications {
		assert.Equal(t, "user", n.resource)
		assert.NotEmpty(t, n.payload)
	}
}

func TestCreateWithAuthor(t *testing.T) {
	author := createUser(t, "walt")
	authorClient := testService.client.WithHeader("Melone-Author", author.Data.ID)
	var res resource
	_, err := authorClient.RawPost("/api/store/resources", map[string]interface{}{
		"data": map[string]interface{}{"type": "user", "body": map[string]interface{}{
			"name": "xenia",
		}},
	}, &res)
	require.NoError(t, err)
	assert.Equal(t, author.Data.ID, res.Data.Meta["author-id"])
}

func TestReadNoResource(t *testing.T) {
	status, err := testService.client.RawGet("/api/store/resources/"+uuid.New().String(), nil)
	assert.Equal(t, 404, status)
	assert.Contains(t, err.Error(), "NO_RESOURCE")
}

func TestItemReadUnknownItem(t *testing.T) {
	user := createUser(t, "yuri")
	status, err := testService.client.RawGet("/api/store/resources/"+user.Data.ID+"/nonsense", nil)
	assert.Equal(t, 400, status)
	assert.Contains(t, err.Error(), "NO_ITEM")
}
